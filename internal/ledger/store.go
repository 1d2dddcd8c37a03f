package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/orderedcode"
	"github.com/rs/zerolog"
	dbm "github.com/tendermint/tm-db"
)

var (
	// ErrAccountNotFound is returned when no account matches a name or
	// number.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds is returned by Transfer when the sender's balance
	// is lower than the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Account is a ledger account. Numbers are assigned by the ledger, never
// reused, and never change for an owner.
type Account struct {
	Number  int64  `json:"number"`
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (a Account) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("number", a.Number)
	e.Str("owner", a.Owner)
	e.Int64("balance", a.Balance)
}

/*
Store keeps the ledger's accounts in a tm-db database.

There are three kinds of record:
  - account:     account number -> Account
  - owner:       owner name -> account number
  - last number: the most recently assigned account number

Store is safe for concurrent reads. Writes are made by the ledger's single
processing goroutine.

NOTE: Store methods panic if they encounter a record they cannot decode,
indicating probable corruption.
*/
type Store struct {
	db             dbm.DB
	firstAccount   int64
	initialBalance int64
}

// NewStore returns a store over db. New accounts are numbered from
// firstAccount upwards and start with initialBalance.
func NewStore(db dbm.DB, firstAccount, initialBalance int64) *Store {
	return &Store{
		db:             db,
		firstAccount:   firstAccount,
		initialBalance: initialBalance,
	}
}

// Open returns the account of owner, creating it if the owner has none.
// created reports whether a new account was assigned.
func (s *Store) Open(owner string) (acct Account, created bool, err error) {
	acct, err = s.AccountByName(owner)
	if err == nil {
		return acct, false, nil
	} else if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, false, err
	}

	number, err := s.nextNumber()
	if err != nil {
		return Account{}, false, err
	}
	acct = Account{Number: number, Owner: owner, Balance: s.initialBalance}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(accountKey(number), mustEncode(acct)); err != nil {
		return Account{}, false, err
	}
	if err := batch.Set(ownerKey(owner), mustEncode(number)); err != nil {
		return Account{}, false, err
	}
	if err := batch.Set(lastNumberKey(), mustEncode(number)); err != nil {
		return Account{}, false, err
	}
	if err := batch.WriteSync(); err != nil {
		return Account{}, false, fmt.Errorf("saving account of %s: %w", owner, err)
	}
	return acct, true, nil
}

func (s *Store) nextNumber() (int64, error) {
	bz, err := s.db.Get(lastNumberKey())
	if err != nil {
		return 0, err
	}
	if len(bz) == 0 {
		return s.firstAccount, nil
	}
	var last int64
	mustDecode(bz, &last)
	return last + 1, nil
}

// AccountByName returns the account of owner.
func (s *Store) AccountByName(owner string) (Account, error) {
	bz, err := s.db.Get(ownerKey(owner))
	if err != nil {
		return Account{}, err
	}
	if len(bz) == 0 {
		return Account{}, fmt.Errorf("%w: owner %q", ErrAccountNotFound, owner)
	}
	var number int64
	mustDecode(bz, &number)
	return s.Account(number)
}

// Account returns the account numbered number.
func (s *Store) Account(number int64) (Account, error) {
	bz, err := s.db.Get(accountKey(number))
	if err != nil {
		return Account{}, err
	}
	if len(bz) == 0 {
		return Account{}, fmt.Errorf("%w: number %d", ErrAccountNotFound, number)
	}
	var acct Account
	mustDecode(bz, &acct)
	return acct, nil
}

// Transfer checks that sender holds at least amount and, when debit is set,
// moves amount from sender to the receiver in one batch. It returns the
// accounts as they are after the transfer. When funds are insufficient it
// returns the unchanged accounts together with ErrInsufficientFunds.
func (s *Store) Transfer(sender string, receiver, amount int64, debit bool) (from, to Account, err error) {
	from, err = s.AccountByName(sender)
	if err != nil {
		return Account{}, Account{}, err
	}
	to, err = s.Account(receiver)
	if err != nil {
		return Account{}, Account{}, err
	}

	if from.Balance < amount {
		return from, to, fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, sender, from.Balance, amount)
	}
	if !debit || from.Number == to.Number || amount == 0 {
		return from, to, nil
	}

	from.Balance -= amount
	to.Balance += amount

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(accountKey(from.Number), mustEncode(from)); err != nil {
		return Account{}, Account{}, err
	}
	if err := batch.Set(accountKey(to.Number), mustEncode(to)); err != nil {
		return Account{}, Account{}, err
	}
	if err := batch.WriteSync(); err != nil {
		return Account{}, Account{}, fmt.Errorf("saving transfer: %w", err)
	}
	return from, to, nil
}

// Accounts returns every account ordered by number.
func (s *Store) Accounts() ([]Account, error) {
	iter, err := s.db.Iterator(accountKey(0), accountKey(1<<63-1))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var accts []Account
	for ; iter.Valid(); iter.Next() {
		var acct Account
		mustDecode(iter.Value(), &acct)
		accts = append(accts, acct)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return accts, nil
}

//-----------------------------------------------------------------------------

const (
	prefixAccount    = int64(0)
	prefixOwner      = int64(1)
	prefixLastNumber = int64(2)
)

func accountKey(number int64) []byte {
	key, err := orderedcode.Append(nil, prefixAccount, number)
	if err != nil {
		panic(err)
	}
	return key
}

func ownerKey(owner string) []byte {
	key, err := orderedcode.Append(nil, prefixOwner, owner)
	if err != nil {
		panic(err)
	}
	return key
}

func lastNumberKey() []byte {
	key, err := orderedcode.Append(nil, prefixLastNumber)
	if err != nil {
		panic(err)
	}
	return key
}

func mustEncode(v interface{}) []byte {
	bz, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("unable to marshal: %w", err))
	}
	return bz
}

func mustDecode(bz []byte, v interface{}) {
	if err := json.Unmarshal(bz, v); err != nil {
		panic(fmt.Errorf("unable to unmarshal %T: %w", v, err))
	}
}
