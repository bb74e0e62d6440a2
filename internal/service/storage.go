package service

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"elkhaled/pos/internal/docstore"
	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/pairing"
	"elkhaled/pos/internal/xid"
)

func (s *Service) storageReady() error {
	if s.docs == nil || s.mirror == nil {
		return ErrStorageUnavailable
	}
	return nil
}

func (s *Service) StorageStatus(ctx context.Context) (domain.StorageStatus, error) {
	if _, err := s.authorize(ctx); err != nil {
		return domain.StorageStatus{}, err
	}
	if err := s.storageReady(); err != nil {
		return domain.StorageStatus{State: string(docstore.StateDisconnected)}, nil
	}
	return s.storageStatus(), nil
}

func (s *Service) storageStatus() domain.StorageStatus {
	var status domain.StorageStatus
	if s.scheduler != nil {
		status = s.scheduler.Status()
	}
	status.State = string(s.docs.State())
	if h, ok := s.docs.Handle(); ok {
		status.Directory = h.Name
		if status.Directory == "" {
			status.Directory = h.Location
		}
	}
	return status
}

// ConnectStorage grants a data directory. With no location the configured
// picker asks the operator. Existing documents are imported; an empty
// directory is seeded from the current state.
func (s *Service) ConnectStorage(ctx context.Context, req domain.StorageConnectRequest) (domain.StorageConnectResponse, error) {
	if _, err := s.authorize(ctx, domain.PermSettingsManage); err != nil {
		return domain.StorageConnectResponse{}, err
	}
	if err := s.storageReady(); err != nil {
		return domain.StorageConnectResponse{}, err
	}

	location := strings.TrimSpace(req.Location)
	if location == "" {
		if err := s.docs.SelectDirectory(ctx); err != nil {
			return domain.StorageConnectResponse{}, err
		}
	} else {
		kind := docstore.Kind(strings.TrimSpace(req.Kind))
		if kind == "" {
			kind = docstore.KindDirectory
		}
		handle := docstore.Handle{Kind: kind, Location: location, Name: location}
		if kind == docstore.KindDirectory {
			handle.Name = filepath.Base(location)
		}
		if err := s.docs.Attach(ctx, handle); err != nil {
			return domain.StorageConnectResponse{}, err
		}
	}

	imported, err := s.mirror.Connect(ctx)
	if err != nil {
		return domain.StorageConnectResponse{}, err
	}
	s.logAudit(ctx, "storage_connect", "storage", "", fmt.Sprintf("imported=%t", imported))
	return domain.StorageConnectResponse{Imported: imported, Status: s.storageStatus()}, nil
}

// RestoreStorage reopens the persisted capability, asking again for
// permission when it was revoked, and reloads the documents.
func (s *Service) RestoreStorage(ctx context.Context) (domain.StorageStatus, error) {
	if _, err := s.authorize(ctx, domain.PermSettingsManage); err != nil {
		return domain.StorageStatus{}, err
	}
	if err := s.storageReady(); err != nil {
		return domain.StorageStatus{}, err
	}
	if s.docs.State() == docstore.StatePermissionNeeded {
		if err := s.docs.Reconnect(ctx); err != nil {
			return s.storageStatus(), err
		}
	} else if !s.docs.RestoreCapability(ctx) {
		return s.storageStatus(), docstore.ErrNotConnected
	}
	if _, err := s.mirror.Load(ctx); err != nil {
		return s.storageStatus(), err
	}
	return s.storageStatus(), nil
}

// SaveStorage writes every document now.
func (s *Service) SaveStorage(ctx context.Context) (domain.StorageStatus, error) {
	if _, err := s.authorize(ctx); err != nil {
		return domain.StorageStatus{}, err
	}
	if err := s.storageReady(); err != nil {
		return domain.StorageStatus{}, err
	}
	if !s.docs.Connected() {
		return s.storageStatus(), docstore.ErrNotConnected
	}
	if err := s.mirror.SaveAll(ctx); err != nil {
		return s.storageStatus(), err
	}
	return s.storageStatus(), nil
}

func (s *Service) DisconnectStorage(ctx context.Context) error {
	if _, err := s.authorize(ctx, domain.PermSettingsManage); err != nil {
		return err
	}
	if err := s.storageReady(); err != nil {
		return err
	}
	return s.docs.Disconnect(ctx)
}

// Pairing holds the desktop side of the phone pairing.
type Pairing struct {
	Mode    string
	Host    *pairing.Host
	Tickets *pairing.Tickets
	// BaseURL is where the phone reaches the pairing endpoint: this server
	// in peer mode, the relay in relay mode.
	BaseURL    string
	Rendezvous string
}

const (
	PairingPeer  = "peer"
	PairingRelay = "relay"
	PairingOff   = "off"
)

func NewPairing(mode string, host *pairing.Host, tickets *pairing.Tickets, baseURL string) *Pairing {
	return &Pairing{
		Mode:       mode,
		Host:       host,
		Tickets:    tickets,
		BaseURL:    baseURL,
		Rendezvous: xid.Rendezvous(),
	}
}

func (s *Service) pairingReady() error {
	if s.pairing == nil || s.pairing.Mode == PairingOff || s.pairing.Host == nil || s.pairing.Tickets == nil {
		return ErrPairingDisabled
	}
	return nil
}

// PairingInfo issues a fresh ticket and returns the URL the phone scans.
func (s *Service) PairingInfo(ctx context.Context) (domain.PairingInfo, error) {
	if _, err := s.authorize(ctx, domain.PermPOSAccess); err != nil {
		return domain.PairingInfo{}, err
	}
	if err := s.pairingReady(); err != nil {
		return domain.PairingInfo{Mode: PairingOff}, err
	}
	ticket, expiresAt, err := s.pairing.Tickets.Issue(s.pairing.Rendezvous)
	if err != nil {
		return domain.PairingInfo{}, err
	}
	return domain.PairingInfo{
		Mode:      s.pairing.Mode,
		URL:       pairing.PairingURL(s.pairing.BaseURL, ticket),
		ExpiresAt: expiresAt,
		Online:    s.pairing.Host.Online(),
		Peers:     s.pairing.Host.Peers(),
	}, nil
}

func (s *Service) PairingQRCode(ctx context.Context, size int) ([]byte, error) {
	info, err := s.PairingInfo(ctx)
	if err != nil {
		return nil, err
	}
	return pairing.QRCode(info.URL, size)
}

// VerifyPairingTicket checks a ticket presented by a dialing phone.
func (s *Service) VerifyPairingTicket(ticket string) error {
	if err := s.pairingReady(); err != nil {
		return err
	}
	id, err := s.pairing.Tickets.Verify(ticket)
	if err != nil {
		return err
	}
	if id != s.pairing.Rendezvous {
		return pairing.ErrInvalidTicket
	}
	return nil
}

// RequestRemoteScan opens the camera on every paired phone.
func (s *Service) RequestRemoteScan(ctx context.Context) (int, error) {
	user, err := s.authorize(ctx, domain.PermPOSAccess)
	if err != nil {
		return 0, err
	}
	if err := s.pairingReady(); err != nil {
		return 0, err
	}
	requester := user.Name
	if requester == "" {
		requester = user.Username
	}
	return s.pairing.Host.RequestScan(requester), nil
}

// RemoteScanner adapts ScanBarcode for scan sources without a request
// context: the paired phone and the keyboard wedge act as the signed-in
// desktop user.
func (s *Service) RemoteScanner() pairing.ScanFunc {
	return func(barcode string) (domain.Product, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		product, err := s.ScanBarcode(ctx, barcode)
		if err != nil {
			return domain.Product{}, err
		}
		log.Printf("[pairing] remote scan added product=%s barcode=%s", product.ID, barcode)
		return product, nil
	}
}
