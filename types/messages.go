package types

import (
	"fmt"

	"github.com/tendermint/bazaar/internal/jsontypes"
)

// Message is a protocol message carried by the bus. Every variant is
// registered with jsontypes so a receiver can decode the concrete type from
// the wire and dispatch on it with a type switch.
type Message interface {
	jsontypes.Tagged

	// ValidateBasic checks the message's own fields. It does not consult any
	// state.
	ValidateBasic() error
}

// OrderType distinguishes the kinds of order the ledger accepts.
type OrderType int

// OrderTypeSend orders the ledger to move money to another account.
const OrderTypeSend OrderType = 1

func (t OrderType) String() string {
	switch t {
	case OrderTypeSend:
		return "SEND"
	default:
		return fmt.Sprintf("OrderType(%d)", int(t))
	}
}

// ReportType distinguishes the settlement reports the ledger emits.
type ReportType int

const (
	ReportTypeReceived ReportType = 1
	ReportTypeFailed   ReportType = 2
)

func (t ReportType) String() string {
	switch t {
	case ReportTypeReceived:
		return "RECEIVED"
	case ReportTypeFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("ReportType(%d)", int(t))
	}
}

func init() {
	jsontypes.MustRegister(&OpenAccount{})
	jsontypes.MustRegister(&AccountOpened{})
	jsontypes.MustRegister(&ShowBalance{})
	jsontypes.MustRegister(&BalanceReport{})
	jsontypes.MustRegister(&TransferOrder{})
	jsontypes.MustRegister(&ReceivedReport{})
	jsontypes.MustRegister(&FailedReport{})
	jsontypes.MustRegister(&CatalogBroadcast{})
	jsontypes.MustRegister(&PurchaseRequest{})
	jsontypes.MustRegister(&Unavailable{})
	jsontypes.MustRegister(&Reserved{})
	jsontypes.MustRegister(&SaleConfirmed{})
	jsontypes.MustRegister(&SaleReleased{})
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, fmt.Sprintf(format, args...))
}

//-----------------------------------------------------------------------------
// Ledger requests and replies

// OpenAccount asks the ledger for the account of ParticipantName. The
// envelope's reply address becomes the account's standing report
// destination.
type OpenAccount struct {
	ParticipantName string `json:"participant_name"`
}

func (*OpenAccount) TypeTag() string { return "bazaar/OpenAccount" }

func (m *OpenAccount) ValidateBasic() error {
	if m.ParticipantName == "" {
		return invalid("open account: empty participant name")
	}
	return nil
}

// AccountOpened carries the assigned or already known account number.
type AccountOpened struct {
	AccountNumber int64 `json:"account_number,string"`
}

func (*AccountOpened) TypeTag() string { return "bazaar/AccountOpened" }

func (m *AccountOpened) ValidateBasic() error {
	if m.AccountNumber <= 0 {
		return invalid("account opened: non-positive account number %d", m.AccountNumber)
	}
	return nil
}

// ShowBalance asks the ledger for the balance of ParticipantName's account.
type ShowBalance struct {
	ParticipantName string `json:"participant_name"`
}

func (*ShowBalance) TypeTag() string { return "bazaar/ShowBalance" }

func (m *ShowBalance) ValidateBasic() error {
	if m.ParticipantName == "" {
		return invalid("show balance: empty participant name")
	}
	return nil
}

// BalanceReport answers ShowBalance. Unknown is set when the participant
// never opened an account.
type BalanceReport struct {
	Balance int64 `json:"balance"`
	Unknown bool  `json:"unknown,omitempty"`
}

func (*BalanceReport) TypeTag() string { return "bazaar/BalanceReport" }

func (m *BalanceReport) ValidateBasic() error {
	if m.Balance < 0 {
		return invalid("balance report: negative balance %d", m.Balance)
	}
	return nil
}

// TransferOrder orders the ledger to move Amount from SenderName's account
// to ReceiverAccount. Silent suppresses the success report and is used for
// refunds; it defaults to false when absent from the wire.
type TransferOrder struct {
	OrderType       OrderType `json:"order_type"`
	SenderName      string    `json:"sender_name"`
	ReceiverAccount int64     `json:"receiver_account"`
	Amount          int64     `json:"amount"`
	Silent          bool      `json:"silent,omitempty"`
}

// NewTransferOrder returns a SEND order.
func NewTransferOrder(sender string, receiver, amount int64, silent bool) *TransferOrder {
	return &TransferOrder{
		OrderType:       OrderTypeSend,
		SenderName:      sender,
		ReceiverAccount: receiver,
		Amount:          amount,
		Silent:          silent,
	}
}

func (*TransferOrder) TypeTag() string { return "bazaar/TransferOrder" }

func (m *TransferOrder) ValidateBasic() error {
	switch {
	case m.OrderType != OrderTypeSend:
		return invalid("transfer order: unsupported order type %v", m.OrderType)
	case m.SenderName == "":
		return invalid("transfer order: empty sender name")
	case m.ReceiverAccount <= 0:
		return invalid("transfer order: non-positive receiver account %d", m.ReceiverAccount)
	case m.Amount < 0:
		return invalid("transfer order: negative amount %d", m.Amount)
	}
	return nil
}

// ReceivedReport tells a receiver that SenderAccount paid it Amount.
type ReceivedReport struct {
	ReportType    ReportType `json:"report_type"`
	SenderAccount int64      `json:"sender_account"`
	Amount        int64      `json:"amount"`
}

// NewReceivedReport returns a RECEIVED report.
func NewReceivedReport(sender, amount int64) *ReceivedReport {
	return &ReceivedReport{ReportType: ReportTypeReceived, SenderAccount: sender, Amount: amount}
}

func (*ReceivedReport) TypeTag() string { return "bazaar/ReceivedReport" }

func (m *ReceivedReport) ValidateBasic() error {
	switch {
	case m.ReportType != ReportTypeReceived:
		return invalid("received report: wrong report type %v", m.ReportType)
	case m.SenderAccount <= 0:
		return invalid("received report: non-positive sender account %d", m.SenderAccount)
	case m.Amount < 0:
		return invalid("received report: negative amount %d", m.Amount)
	}
	return nil
}

// FailedReport tells a receiver that a transfer from SenderAccount was
// refused for insufficient funds. No money moved.
type FailedReport struct {
	ReportType    ReportType `json:"report_type"`
	SenderAccount int64      `json:"sender_account"`
}

// NewFailedReport returns a FAILED report.
func NewFailedReport(sender int64) *FailedReport {
	return &FailedReport{ReportType: ReportTypeFailed, SenderAccount: sender}
}

func (*FailedReport) TypeTag() string { return "bazaar/FailedReport" }

func (m *FailedReport) ValidateBasic() error {
	switch {
	case m.ReportType != ReportTypeFailed:
		return invalid("failed report: wrong report type %v", m.ReportType)
	case m.SenderAccount <= 0:
		return invalid("failed report: non-positive sender account %d", m.SenderAccount)
	}
	return nil
}

//-----------------------------------------------------------------------------
// Offers

// CatalogBroadcast is a seller's full catalog. An empty catalog withdraws the
// seller.
type CatalogBroadcast struct {
	SellerName string  `json:"seller_name"`
	Goods      []Goods `json:"goods"`
}

func (*CatalogBroadcast) TypeTag() string { return "bazaar/CatalogBroadcast" }

func (m *CatalogBroadcast) ValidateBasic() error {
	if m.SellerName == "" {
		return invalid("catalog: empty seller name")
	}
	seen := make(map[string]struct{}, len(m.Goods))
	for _, g := range m.Goods {
		if err := g.ValidateBasic(); err != nil {
			return invalid("catalog of %s: %v", m.SellerName, err)
		}
		if _, ok := seen[g.Name]; ok {
			return invalid("catalog of %s: duplicate goods %q", m.SellerName, g.Name)
		}
		seen[g.Name] = struct{}{}
	}
	return nil
}

// IsWithdrawal reports whether the broadcast is a seller's goodbye.
func (m *CatalogBroadcast) IsWithdrawal() bool { return len(m.Goods) == 0 }

//-----------------------------------------------------------------------------
// Sale protocol

// PurchaseRequest asks a seller to reserve ItemName for BuyerName.
type PurchaseRequest struct {
	BuyerName    string `json:"buyer_name"`
	ItemName     string `json:"item_name"`
	BuyerAccount int64  `json:"buyer_account"`
}

func (*PurchaseRequest) TypeTag() string { return "bazaar/PurchaseRequest" }

func (m *PurchaseRequest) ValidateBasic() error {
	switch {
	case m.BuyerName == "":
		return invalid("purchase request: empty buyer name")
	case m.ItemName == "":
		return invalid("purchase request: empty item name")
	case m.BuyerAccount <= 0:
		return invalid("purchase request: non-positive buyer account %d", m.BuyerAccount)
	}
	return nil
}

// Unavailable denies a purchase request.
type Unavailable struct {
	ItemName string `json:"item_name"`
}

func (*Unavailable) TypeTag() string { return "bazaar/Unavailable" }

func (m *Unavailable) ValidateBasic() error { return nil }

// Reserved grants a purchase request. Price is binding for the transaction.
type Reserved struct {
	SellerName    string `json:"seller_name"`
	ItemName      string `json:"item_name"`
	SellerAccount int64  `json:"seller_account"`
	Price         int64  `json:"price"`
}

func (*Reserved) TypeTag() string { return "bazaar/Reserved" }

func (m *Reserved) ValidateBasic() error {
	switch {
	case m.SellerAccount <= 0:
		return invalid("reserved: non-positive seller account %d", m.SellerAccount)
	case m.Price < 0:
		return invalid("reserved: negative price %d", m.Price)
	}
	return nil
}

// SaleConfirmed ends a purchase successfully.
type SaleConfirmed struct {
	ItemName string `json:"item_name"`
}

func (*SaleConfirmed) TypeTag() string { return "bazaar/SaleConfirmed" }

func (m *SaleConfirmed) ValidateBasic() error { return nil }

// SaleReleased ends a purchase unsuccessfully; the item is offered again.
type SaleReleased struct {
	ItemName string `json:"item_name"`
}

func (*SaleReleased) TypeTag() string { return "bazaar/SaleReleased" }

func (m *SaleReleased) ValidateBasic() error { return nil }
