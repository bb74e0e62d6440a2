package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"elkhaled/pos/internal/domain"
)

// Action kinds an interpreter may ask the assistant to carry out.
const (
	ActionAddToCart       = "add_to_cart"
	ActionClearCart       = "clear_cart"
	ActionSetStock        = "set_stock"
	ActionSetPrice        = "set_price"
	ActionDeleteProduct   = "delete_product"
	ActionCreateProduct   = "create_product"
	ActionCustomerPayment = "customer_payment"
	ActionCreateCustomer  = "create_customer"
	ActionUpdateSettings  = "update_settings"
	ActionNavigate        = "navigate"
)

type Action struct {
	Kind       string                `json:"kind"`
	ProductID  string                `json:"productId,omitempty"`
	CustomerID string                `json:"customerId,omitempty"`
	Quantity   int                   `json:"quantity,omitempty"`
	Stock      *int                  `json:"stock,omitempty"`
	Price      *decimal.Decimal      `json:"price,omitempty"`
	Amount     decimal.Decimal       `json:"amount"`
	Product    *domain.Product       `json:"product,omitempty"`
	Customer   *domain.Customer      `json:"customer,omitempty"`
	Settings   *domain.SettingsPatch `json:"settings,omitempty"`
	Path       string                `json:"path,omitempty"`
}

type Reply struct {
	Text    string  `json:"text"`
	Action  *Action `json:"action,omitempty"`
	IsError bool    `json:"isError,omitempty"`
}

// AssistantSnapshot is the state an interpreter may read.
type AssistantSnapshot struct {
	Products  []domain.Product  `json:"products"`
	Customers []domain.Customer `json:"customers"`
	Cart      []domain.CartItem `json:"cart"`
	Settings  domain.Settings   `json:"settings"`
}

// Interpreter turns free text into a reply and an optional action. It
// never mutates state itself.
type Interpreter interface {
	Interpret(ctx context.Context, text string, snapshot AssistantSnapshot) (Reply, error)
}

// Assist runs the interpreter and carries out its action through the same
// permission checks as the API.
func (s *Service) Assist(ctx context.Context, text string) (Reply, error) {
	if _, err := s.authorize(ctx); err != nil {
		return Reply{}, err
	}
	if s.interpreter == nil {
		return Reply{}, ErrAssistantNotEnabled
	}
	reply, err := s.interpreter.Interpret(ctx, text, AssistantSnapshot{
		Products:  s.state.Products(),
		Customers: s.state.Customers(),
		Cart:      s.state.Cart(),
		Settings:  s.state.Settings(),
	})
	if err != nil {
		return Reply{}, err
	}
	if reply.Action == nil || reply.IsError {
		return reply, nil
	}
	if err := s.apply(ctx, *reply.Action); err != nil {
		return Reply{Text: err.Error(), IsError: true}, err
	}
	return reply, nil
}

func (s *Service) apply(ctx context.Context, a Action) error {
	switch a.Kind {
	case ActionAddToCart:
		for range max(a.Quantity, 1) {
			if _, err := s.AddToCart(ctx, a.ProductID); err != nil {
				return err
			}
		}
	case ActionClearCart:
		return s.ClearCart(ctx)
	case ActionSetStock:
		if a.Stock == nil {
			return fmt.Errorf("set_stock needs a stock value")
		}
		product, err := s.GetProduct(ctx, a.ProductID)
		if err != nil {
			return err
		}
		if delta := *a.Stock - product.Stock; delta != 0 {
			_, err = s.AdjustStock(ctx, a.ProductID, domain.StockAdjustmentRequest{Delta: delta, Reason: "assistant"})
			return err
		}
	case ActionSetPrice:
		if a.Price == nil {
			return fmt.Errorf("set_price needs a price")
		}
		_, err := s.UpdateProduct(ctx, a.ProductID, domain.ProductPatch{Price: a.Price})
		return err
	case ActionDeleteProduct:
		return s.DeleteProduct(ctx, a.ProductID)
	case ActionCreateProduct:
		if a.Product == nil {
			return fmt.Errorf("create_product needs a product")
		}
		_, err := s.CreateProduct(ctx, *a.Product)
		return err
	case ActionCustomerPayment:
		_, err := s.AddCustomerTransaction(ctx, a.CustomerID, domain.Transaction{
			Type:   domain.TxPayment,
			Amount: a.Amount,
			Note:   "Payment recorded by the assistant",
		})
		return err
	case ActionCreateCustomer:
		if a.Customer == nil {
			return fmt.Errorf("create_customer needs a customer")
		}
		_, err := s.CreateCustomer(ctx, *a.Customer)
		return err
	case ActionUpdateSettings:
		if a.Settings == nil {
			return fmt.Errorf("update_settings needs settings")
		}
		_, err := s.UpdateSettings(ctx, *a.Settings)
		return err
	case ActionNavigate:
	default:
		return fmt.Errorf("unknown assistant action %q", a.Kind)
	}
	return nil
}
