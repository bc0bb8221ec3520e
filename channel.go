package ch4nn337

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
)

// Party identifies one side of a channel.
type Party uint8

const (
	PartyA Party = iota
	PartyB
)

func (p Party) String() string {
	switch p {
	case PartyA:
		return "A"
	case PartyB:
		return "B"
	default:
		return fmt.Sprintf("Party(%d)", uint8(p))
	}
}

func (p Party) MarshalText() ([]byte, error) {
	switch p {
	case PartyA, PartyB:
		return []byte(p.String()), nil
	default:
		return nil, fmt.Errorf("invalid party %d", uint8(p))
	}
}

func (p *Party) UnmarshalText(text []byte) error {
	switch string(text) {
	case "A":
		*p = PartyA
	case "B":
		*p = PartyB
	default:
		return fmt.Errorf("invalid party %q", text)
	}
	return nil
}

// Channel is one party's view of a channel. Each party keeps its own
// instance; the two instances share chain ID, entry point, factory, address
// and salt and mirror role, key and counterparty.
//
// A Channel is not safe for concurrent use.
type Channel struct {
	chainID      *big.Int
	entryPoint   common.Address
	factory      common.Address
	address      common.Address
	us           Party
	key          []byte
	ourAddress   common.Address
	counterparty common.Address
	salt         *big.Int

	// messages holds committed updates with nonces 0, 1, 2, ...
	messages []Message
	// pending is this instance's own proposal awaiting the counterparty.
	pending Message
}

// Open creates both ends of a new channel: two fresh keys, a random salt
// and the account address the factory derives from them. The caller hands
// the B instance to the counterparty.
func Open(ctx context.Context, chainID *big.Int, entryPoint, factory common.Address, client Client) (*Channel, *Channel, error) {
	keyA, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	keyB, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	var saltBytes [32]byte
	if _, err := rand.Read(saltBytes[:]); err != nil {
		return nil, nil, fmt.Errorf("generate salt: %w", err)
	}
	salt := new(big.Int).SetBytes(saltBytes[:])

	addressA := crypto.PubkeyToAddress(keyA.PublicKey)
	addressB := crypto.PubkeyToAddress(keyB.PublicKey)

	address, err := FactoryAddress(ctx, client, factory, addressA, addressB, salt)
	if err != nil {
		return nil, nil, err
	}

	a := &Channel{
		chainID:      new(big.Int).Set(chainID),
		entryPoint:   entryPoint,
		factory:      factory,
		address:      address,
		us:           PartyA,
		key:          crypto.FromECDSA(keyA),
		ourAddress:   addressA,
		counterparty: addressB,
		salt:         salt,
	}
	b := &Channel{
		chainID:      new(big.Int).Set(chainID),
		entryPoint:   entryPoint,
		factory:      factory,
		address:      address,
		us:           PartyB,
		key:          crypto.FromECDSA(keyB),
		ourAddress:   addressB,
		counterparty: addressA,
		salt:         new(big.Int).Set(salt),
	}
	return a, b, nil
}

// Address returns the channel account address.
func (c *Channel) Address() common.Address { return c.address }

// OurAddress returns the address of this instance's signing key.
func (c *Channel) OurAddress() common.Address { return c.ourAddress }

// TheirAddress returns the counterparty's signing address.
func (c *Channel) TheirAddress() common.Address { return c.counterparty }

// Role returns which party this instance represents.
func (c *Channel) Role() Party { return c.us }

func (c *Channel) ChainID() *big.Int          { return new(big.Int).Set(c.chainID) }
func (c *Channel) EntryPoint() common.Address { return c.entryPoint }
func (c *Channel) Factory() common.Address    { return c.factory }
func (c *Channel) Salt() *big.Int             { return new(big.Int).Set(c.salt) }
func (c *Channel) HasPendingMessage() bool    { return c.pending != nil }

// PendingMessage returns a copy of this instance's outstanding proposal, or
// nil when idle.
func (c *Channel) PendingMessage() Message {
	if c.pending == nil {
		return nil
	}
	return cloneMessage(c.pending)
}

// Messages returns a copy of the committed history.
func (c *Channel) Messages() []Message {
	out := make([]Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, cloneMessage(m))
	}
	return out
}

func (c *Channel) parties() (a, b common.Address) {
	return c.partiesFor(c.ourAddress)
}

func (c *Channel) partiesFor(us common.Address) (a, b common.Address) {
	if c.us == PartyA {
		return us, c.counterparty
	}
	return c.counterparty, us
}

// InitCode returns the account deployment prefix: the factory address
// followed by createAccount(partyA, partyB, salt). Both instances compute
// the same bytes.
func (c *Channel) InitCode() []byte {
	a, b := c.parties()
	code, err := encodeInitCode(c.factory, a, b, c.salt)
	if err != nil {
		// addresses and a uint256 salt always pack
		panic(fmt.Sprintf("encoding init code: %v", err))
	}
	return code
}

// LastNonce returns the nonce of the latest committed message, or zero for
// an empty history.
func (c *Channel) LastNonce() *big.Int {
	if len(c.messages) == 0 {
		return new(big.Int)
	}
	op, err := operationOf(c.messages[len(c.messages)-1])
	if err != nil {
		panic(err)
	}
	return new(big.Int).Set(bigOrZero(op.Nonce))
}

// NextOutgoingNonce returns the nonce of the next message this instance
// proposes.
//
// Both parties share one counter: last + 1, or 0 before the first message.
// Splitting the counter into odd and even lanes per party would let both
// sides propose concurrently, but the entry point's sequential nonce check
// rejects the gaps that scheme produces.
func (c *Channel) NextOutgoingNonce() *big.Int {
	if len(c.messages) == 0 {
		return new(big.Int)
	}
	return new(big.Int).Add(c.LastNonce(), big.NewInt(1))
}

// NextIncomingNonce returns the nonce expected on the counterparty's next
// proposal. With a shared counter it equals NextOutgoingNonce.
func (c *Channel) NextIncomingNonce() *big.Int {
	return c.NextOutgoingNonce()
}

// valueTransfer returns the outstanding value transfer: the one recorded by
// the latest committed Transfer, or zero after a Withdrawal or before any
// message.
func (c *Channel) valueTransfer() *big.Int {
	if len(c.messages) == 0 {
		return new(big.Int)
	}
	return valueTransferAfter(c.messages[len(c.messages)-1])
}

// ValueTransfer returns the outstanding value transfer.
func (c *Channel) ValueTransfer() *big.Int {
	return c.valueTransfer()
}

// signer returns the signing key after checking it still derives our
// address.
func (c *Channel) signer() (*ecdsa.PrivateKey, error) {
	key, err := crypto.ToECDSA(c.key)
	if err != nil {
		return nil, integrityf("stored key is not a valid secp256k1 scalar")
	}
	if derived := crypto.PubkeyToAddress(key.PublicKey); derived != c.ourAddress {
		return nil, integrityf("key derives %s, channel expects %s", derived.Hex(), c.ourAddress.Hex())
	}
	return key, nil
}

// sign signs the user operation hash of op with this instance's key.
func (c *Channel) sign(op *UserOperation) ([]byte, error) {
	key, err := c.signer()
	if err != nil {
		return nil, err
	}
	return signHash(key, op.GetUserOpHash(c.entryPoint, c.chainID))
}

// Verify checks the instance for corruption: the key must derive our
// address, roles must be known and the parties and shared parameters must
// be set. Failures are *IntegrityError.
func (c *Channel) Verify() error {
	if _, err := c.signer(); err != nil {
		return err
	}
	switch {
	case c.us != PartyA && c.us != PartyB:
		return integrityf("unknown role %d", uint8(c.us))
	case c.counterparty == c.ourAddress:
		return integrityf("counterparty equals our own address")
	case c.address == (common.Address{}):
		return integrityf("channel address is not set")
	case c.chainID == nil || c.chainID.Sign() <= 0:
		return integrityf("chain id must be positive")
	case c.salt == nil || c.salt.Sign() < 0:
		return integrityf("salt is not set")
	}
	for i, m := range c.messages {
		op, err := operationOf(m)
		if err != nil {
			return integrityf("message %d: %v", i, err)
		}
		if bigOrZero(op.Nonce).Cmp(big.NewInt(int64(i))) != 0 {
			return integrityf("message %d has nonce %s", i, bigOrZero(op.Nonce))
		}
	}
	if c.pending != nil {
		if _, err := operationOf(c.pending); err != nil {
			return integrityf("pending message: %v", err)
		}
	}
	return nil
}

// SameChannel checks that two instances describe the two ends of one
// channel. Divergence means one of the persisted records is corrupt.
func SameChannel(a, b *Channel) error {
	switch {
	case a.address != b.address:
		return integrityf("addresses differ: %s != %s", a.address.Hex(), b.address.Hex())
	case a.factory != b.factory:
		return integrityf("factories differ")
	case a.entryPoint != b.entryPoint:
		return integrityf("entry points differ")
	case a.chainID.Cmp(b.chainID) != 0:
		return integrityf("chain ids differ")
	case a.salt.Cmp(b.salt) != 0:
		return integrityf("salts differ")
	case a.us == b.us:
		return integrityf("both instances are party %s", a.us)
	case a.counterparty != b.ourAddress || b.counterparty != a.ourAddress:
		return integrityf("counterparty addresses do not mirror")
	}
	return nil
}

// channelRecord is the persisted form of a Channel. It includes the private
// key in plain hex.
type channelRecord struct {
	ChainID        *hexutil.Big   `json:"chain_id" binding:"required"`
	EntryPoint     common.Address `json:"entry_point" binding:"nonzero_addr"`
	Factory        common.Address `json:"factory" binding:"nonzero_addr"`
	Address        common.Address `json:"address" binding:"nonzero_addr"`
	Us             Party          `json:"us" binding:"party"`
	Key            hexutil.Bytes  `json:"key" binding:"len=32"`
	OurAddress     common.Address `json:"our_address" binding:"nonzero_addr"`
	Counterparty   common.Address `json:"counterparty" binding:"nonzero_addr"`
	Salt           *hexutil.Big   `json:"salt" binding:"required"`
	Messages       []*messageJSON `json:"messages" binding:"dive,required"`
	PendingMessage *messageJSON   `json:"pending_message"`
}

func (c *Channel) record() (*channelRecord, error) {
	rec := &channelRecord{
		ChainID:      (*hexutil.Big)(c.chainID),
		EntryPoint:   c.entryPoint,
		Factory:      c.factory,
		Address:      c.address,
		Us:           c.us,
		Key:          c.key,
		OurAddress:   c.ourAddress,
		Counterparty: c.counterparty,
		Salt:         (*hexutil.Big)(c.salt),
		Messages:     make([]*messageJSON, 0, len(c.messages)),
	}
	for _, m := range c.messages {
		mj, err := toMessageJSON(m)
		if err != nil {
			return nil, err
		}
		rec.Messages = append(rec.Messages, mj)
	}
	if c.pending != nil {
		mj, err := toMessageJSON(c.pending)
		if err != nil {
			return nil, err
		}
		rec.PendingMessage = mj
	}
	return rec, nil
}

// MarshalJSON encodes the channel as a record, private key included.
func (c *Channel) MarshalJSON() ([]byte, error) {
	rec, err := c.record()
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes a record written by MarshalJSON. Use DecodeChannel
// to also validate the record.
func (c *Channel) UnmarshalJSON(data []byte) error {
	var rec channelRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	return c.fromRecord(&rec)
}

func (c *Channel) fromRecord(rec *channelRecord) error {
	if rec.ChainID == nil || rec.Salt == nil {
		return fmt.Errorf("record is missing chain id or salt")
	}
	restored := Channel{
		chainID:      new(big.Int).Set(rec.ChainID.ToInt()),
		entryPoint:   rec.EntryPoint,
		factory:      rec.Factory,
		address:      rec.Address,
		us:           rec.Us,
		key:          append([]byte{}, rec.Key...),
		ourAddress:   rec.OurAddress,
		counterparty: rec.Counterparty,
		salt:         new(big.Int).Set(rec.Salt.ToInt()),
		messages:     make([]Message, 0, len(rec.Messages)),
	}
	for i, mj := range rec.Messages {
		m, err := mj.toMessage()
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		restored.messages = append(restored.messages, m)
	}
	if rec.PendingMessage != nil {
		m, err := rec.PendingMessage.toMessage()
		if err != nil {
			return fmt.Errorf("pending message: %w", err)
		}
		restored.pending = m
	}
	*c = restored
	return nil
}

// EncodeChannel serializes a channel record.
func EncodeChannel(c *Channel) ([]byte, error) {
	data, err := c.MarshalJSON()
	if err != nil {
		return nil, &SerdeError{Err: err}
	}
	return data, nil
}

// DecodeChannel parses and validates a channel record. Malformed JSON and
// failed field validation are *SerdeError; a record whose key does not
// derive its address is an *IntegrityError.
func DecodeChannel(data []byte) (*Channel, error) {
	var rec channelRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &SerdeError{Err: err}
	}
	if err := validateRecord(&rec); err != nil {
		return nil, &SerdeError{Err: err}
	}
	c := new(Channel)
	if err := c.fromRecord(&rec); err != nil {
		return nil, &SerdeError{Err: err}
	}
	if err := c.Verify(); err != nil {
		return nil, err
	}
	return c, nil
}
