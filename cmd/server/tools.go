package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"elkhaled/pos/internal/config"
	"elkhaled/pos/internal/docstore"
	"elkhaled/pos/internal/docstore/fsdir"
	"elkhaled/pos/internal/kv"
	"elkhaled/pos/internal/mirror"
	"elkhaled/pos/internal/pairing"
	"elkhaled/pos/internal/scan"
	"elkhaled/pos/internal/service"
	"elkhaled/pos/internal/store/memory"
)

func newImportCommand() *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "import <legacy-dir>",
		Short: "Normalize a legacy data directory into the current format",
		Long: `Read every data file found in <legacy-dir>, fill the fields older
versions did not write, and write the complete set of documents to the
destination directory (--to, or DATA_DIR).

Example:
  pos import ./old-backup --to ./data`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if to == "" {
				to = cfg.DataDir
			}
			return runImport(cmd.Context(), args[0], to, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "destination data directory (default DATA_DIR)")
	return cmd
}

func runImport(ctx context.Context, from string, to string, out io.Writer) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("no destination: pass --to or set DATA_DIR")
	}
	absFrom, err := filepath.Abs(from)
	if err != nil {
		return err
	}
	openers := map[docstore.Kind]docstore.Opener{docstore.KindDirectory: fsdir.Open}

	source := docstore.New(nil, nil, openers)
	if err := source.Attach(ctx, fsdir.Handle(absFrom)); err != nil {
		return fmt.Errorf("open %s: %w", from, err)
	}

	state := memory.New()
	loaded, err := mirror.New(state, source).Load(ctx)
	if err != nil {
		return fmt.Errorf("read %s: %w", from, err)
	}
	if len(loaded) == 0 {
		return fmt.Errorf("no data files found in %s", from)
	}

	dest := docstore.New(nil, fsdir.Picker{Path: to}, openers)
	if err := dest.SelectDirectory(ctx); err != nil {
		return fmt.Errorf("open %s: %w", to, err)
	}
	if err := mirror.New(state, dest).SaveAll(ctx); err != nil {
		return fmt.Errorf("write %s: %w", to, err)
	}

	fmt.Fprintf(out, "imported %d data files: %d products, %d customers, %d suppliers, %d orders, %d expenses\n",
		len(loaded), len(state.Products()), len(state.Customers()), len(state.Suppliers()), len(state.Orders()), len(state.Expenses()))
	return nil
}

func newPairCodeCommand() *cobra.Command {
	var (
		pngPath string
		size    int
	)

	cmd := &cobra.Command{
		Use:   "pair-code",
		Short: "Print a pairing link for a phone",
		Long: `Issue a pairing ticket for this installation and print the link a
phone opens to join the desktop session. With --png the link is also written
as a QR code image.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runPairCode(cmd.Context(), cfg, pngPath, size, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&pngPath, "png", "", "write the QR code to this file")
	cmd.Flags().IntVar(&size, "size", 256, "QR code edge in pixels")
	return cmd
}

func runPairCode(ctx context.Context, cfg config.Config, pngPath string, size int, out io.Writer) error {
	if cfg.PairingMode == service.PairingOff {
		return service.ErrPairingDisabled
	}
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	entries, err := kv.Open(cfg.StateDB)
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer entries.Close()

	rendezvous, err := loadRendezvous(ctx, entries)
	if err != nil {
		return err
	}
	ticket, expiresAt, err := pairing.NewTickets(cfg.AuthSecret, cfg.PairingTicketTTL()).Issue(rendezvous)
	if err != nil {
		return err
	}
	link := pairing.PairingURL(pairingBaseURL(cfg), ticket)

	fmt.Fprintln(out, link)
	fmt.Fprintf(out, "valid until %s\n", expiresAt.Format(time.RFC3339))

	if pngPath == "" {
		return nil
	}
	png, err := pairing.QRCode(link, size)
	if err != nil {
		return err
	}
	return os.WriteFile(pngPath, png, 0o644)
}

func newPhoneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "phone <pairing-link>",
		Short: "Join a desktop session as a remote scanner",
		Long: `Connect to a desktop session with a pairing link and forward every
barcode typed on standard input, for example by a keyboard-wedge scanner on
another machine. A line starting with "?" searches the synced catalog.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhone(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runPhone(ctx context.Context, link string, in io.Reader, out io.Writer) error {
	endpoint, err := pairing.DialURL(link)
	if err != nil {
		return err
	}
	mobile := pairing.NewMobile(func(requester string) {
		fmt.Fprintf(out, "%s asks for a scan\n", requester)
	})
	if err := mobile.Connect(ctx, endpoint); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer mobile.Close()

	wedge := scan.NewWedge(scan.DefaultGap, func(code string) {
		if err := mobile.Scan(code); err != nil {
			log.Printf("[scan] WARN: barcode=%s: %v", code, err)
		}
	})

	lines := bufio.NewScanner(in)
	for lines.Scan() {
		line := strings.TrimSpace(lines.Text())
		if query, ok := strings.CutPrefix(line, "?"); ok {
			for _, p := range mobile.Lookup(strings.TrimSpace(query)) {
				fmt.Fprintf(out, "%s\t%s\t%s\n", p.Barcode, p.Name, p.Price.StringFixed(2))
			}
			continue
		}
		for _, r := range line {
			wedge.Key(r)
		}
		wedge.Key('\n')
		if ctx.Err() != nil {
			return nil
		}
	}
	return lines.Err()
}
