package main

import (
	"bytes"
	"context"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"github.com/blndgs/ch4nn337"
	"github.com/blndgs/ch4nn337/mocks"
	"github.com/blndgs/ch4nn337/store"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(strings.NewReader(stdin), &out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// seed opens a channel against a mocked chain where the undeployed account
// holds 1000 wei and stores both ends as name_a and name_b.
func seed(t *testing.T, dir, name string) (*ch4nn337.Channel, *ch4nn337.Channel, *mocks.MockClient) {
	t.Helper()
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	parsed, err := abi.JSON(strings.NewReader(ch4nn337.FactoryABI))
	require.NoError(t, err)
	out, err := parsed.Methods["getAddress"].Outputs.Pack(common.HexToAddress("0x00000000000000000000000000000000c0ffee00"))
	require.NoError(t, err)
	client.EXPECT().CallContract(gomock.Any(), gomock.Any(), gomock.Any()).Return(out, nil)
	client.EXPECT().CodeAt(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	client.EXPECT().BalanceAt(gomock.Any(), gomock.Any(), gomock.Any()).Return(big.NewInt(1000), nil).AnyTimes()

	a, b, err := ch4nn337.Open(context.Background(), big.NewInt(defaultChainID),
		common.HexToAddress(defaultEntryPoint),
		common.HexToAddress("0x00000000000000000000000000000000000fac70"),
		client)
	require.NoError(t, err)

	st, err := store.New(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, st.Create(name+"_a", a))
	require.NoError(t, st.Create(name+"_b", b))
	return a, b, client
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("ETH_RPC_URL", "http://localhost:8545")
	t.Setenv("CH4NN337_FACTORY", "0x00000000000000000000000000000000000fac70")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addFlags(fs)
	require.NoError(t, fs.Parse([]string{"--data-dir", t.TempDir(), "--chain-id", "11155111"}))

	cfg, err := loadConfig(fs)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, uint64(11155111), cfg.ChainID)
	assert.Equal(t, defaultListen, cfg.Listen)
	assert.False(t, cfg.Remote)

	entryPoint, err := cfg.entryPoint()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(defaultEntryPoint), entryPoint)
	factory, err := cfg.factory()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000fac70"), factory)

	cfg.Factory = "nope"
	_, err = cfg.factory()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug")
	require.NoError(t, err)
	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestCancelCommand(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "chan")

	out, err := run(t, "", "--data-dir", dir, "--log-level", "error", "cancel", "chan_a")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to cancel.")

	_, err = run(t, "", "--data-dir", dir, "cancel", "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnsupportedCommands(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir, "chan")

	for _, name := range []string{"deploy", "dispute", "close-dispute"} {
		_, err := run(t, "", "--data-dir", dir, "--log-level", "error", name, "chan_a")
		assert.ErrorIs(t, err, ch4nn337.ErrNotSupported, name)
	}
}

func TestStatusRequiresRPC(t *testing.T) {
	t.Setenv("ETH_RPC_URL", "")
	dir := t.TempDir()
	seed(t, dir, "chan")

	_, err := run(t, "", "--data-dir", dir, "--log-level", "error", "status", "chan_a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no RPC endpoint")
}

func TestResponseCommand(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, b, client := seed(t, dir, "chan")

	request, err := b.RequestTransfer(ctx, big.NewInt(10), client)
	require.NoError(t, err)
	st, err := store.New(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, st.Save("chan_b", b))

	op, err := ch4nn337.DecodeUserOperation(request)
	require.NoError(t, err)
	msg, err := a.ReceiveMessage(ctx, op, client)
	require.NoError(t, err)
	response, err := a.SignMessage(ctx, msg, client)
	require.NoError(t, err)

	out, err := run(t, "\n"+string(response)+"\n", "--data-dir", dir, "--log-level", "error", "response", "chan_b")
	require.NoError(t, err)
	assert.Contains(t, out, "Please paste response:")
	assert.Contains(t, out, "Committed message with nonce 0.")

	restored, err := st.Load("chan_b")
	require.NoError(t, err)
	assert.False(t, restored.HasPendingMessage())
	require.Len(t, restored.Messages(), 1)

	// nothing left to import
	_, err = run(t, string(response)+"\n", "--data-dir", dir, "--log-level", "error", "response", "chan_b")
	assert.ErrorIs(t, err, ch4nn337.ErrNoPendingMessage)
}

func TestRelayCommandNeedsNoArgs(t *testing.T) {
	_, err := run(t, "", "--data-dir", filepath.Join(t.TempDir(), "d"), "relay", "extra")
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	op := &ch4nn337.UserOperation{
		Sender: common.HexToAddress("0x00000000000000000000000000000000c0ffee00"),
		Nonce:  big.NewInt(2),
	}

	text := describe(&ch4nn337.TransferMessage{UserOp: op, ValueTransfer: big.NewInt(-10)})
	assert.Contains(t, text, "transfer: new value transfer -10 (nonce 2)")
	assert.Contains(t, text, op.String())

	text = describe(&ch4nn337.WithdrawalMessage{UserOp: op, WithdrawUs: big.NewInt(1), WithdrawThem: big.NewInt(2)})
	assert.Contains(t, text, "withdrawal: 1 to us, 2 to them (nonce 2)")
	assert.Contains(t, text, "UserOperation{")
}
