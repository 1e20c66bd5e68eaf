package wallet

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/wastelandfi/wasteland/internal/connector"
	"github.com/wastelandfi/wasteland/internal/util"
)

const testIdentity = "0x52908400098527886E0F7030069857D2E4169EE7"

// fakeEth answers the handful of eth_* calls the factory and connector make.
type fakeEth struct {
	chainID int64
	code    map[common.Address]hexutil.Bytes
	calls   atomic.Int32
}

func (s *fakeEth) ChainId() *hexutil.Big {
	s.calls.Add(1)
	return (*hexutil.Big)(big.NewInt(s.chainID))
}

func (s *fakeEth) BlockNumber() hexutil.Uint64 {
	s.calls.Add(1)
	return 42
}

func (s *fakeEth) GetCode(addr common.Address, _ string) hexutil.Bytes {
	s.calls.Add(1)
	return s.code[addr]
}

func newRPCServer(t *testing.T, eth *fakeEth) string {
	t.Helper()
	srv := rpc.NewServer()
	if err := srv.RegisterName("eth", eth); err != nil {
		t.Fatalf("RegisterName: %v", err)
	}
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		hs.Close()
		srv.Stop()
	})
	return hs.URL
}

func TestEthFactory_DialsHealthyEndpoint(t *testing.T) {
	eth := &fakeEth{chainID: 137}
	url := newRPCServer(t, eth)

	f, err := NewEthFactory(FactoryConfig{RPCURLs: []string{url}})
	if err != nil {
		t.Fatal(err)
	}

	wc, err := f.Client(context.Background(), testIdentity)
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	defer wc.Close()

	client := wc.(*Client)
	if client.Address() != common.HexToAddress(testIdentity) {
		t.Errorf("unexpected address %s", client.Address().Hex())
	}
	if client.CanSign() {
		t.Error("watch-only client should not sign")
	}
	if client.Endpoint() != url {
		t.Errorf("expected endpoint %s, got %s", url, client.Endpoint())
	}

	id, err := wc.ChainID(context.Background())
	if err != nil || id.Int64() != 137 {
		t.Errorf("ChainID = %v, %v", id, err)
	}
	if snap := f.Tracker().Snapshot(); snap[0].LastSuccess.IsZero() {
		t.Error("expected a recorded success")
	}
}

func TestEthFactory_FailsOverToNextEndpoint(t *testing.T) {
	eth := &fakeEth{chainID: 137}
	good := newRPCServer(t, eth)

	dead := httptest.NewServer(nil)
	deadURL := dead.URL
	dead.Close()

	f, err := NewEthFactory(FactoryConfig{RPCURLs: []string{deadURL, good}})
	if err != nil {
		t.Fatal(err)
	}

	wc, err := f.Client(context.Background(), testIdentity)
	if err != nil {
		t.Fatalf("expected failover, got %v", err)
	}
	defer wc.Close()

	if wc.(*Client).Endpoint() != good {
		t.Errorf("expected the live endpoint, got %s", wc.(*Client).Endpoint())
	}
	for _, ep := range f.Tracker().Snapshot() {
		if ep.URL == deadURL && (ep.Failures != 1 || ep.Status != EndpointFlaky) {
			t.Errorf("expected one failure on the dead endpoint, got %+v", ep)
		}
	}
}

func TestEthFactory_InvalidIdentityIsNotRetried(t *testing.T) {
	f, err := NewEthFactory(FactoryConfig{RPCURLs: []string{"http://127.0.0.1:1"}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.Client(context.Background(), "not-an-address")
	if !util.IsNonRetryable(err) {
		t.Errorf("expected non-retryable error, got %v", err)
	}
}

func TestEthFactory_RequiresURL(t *testing.T) {
	if _, err := NewEthFactory(FactoryConfig{}); err == nil {
		t.Error("expected error without RPC URLs")
	}
}

func TestEthFactory_WithConnector(t *testing.T) {
	eth := &fakeEth{
		chainID: 137,
		code:    map[common.Address]hexutil.Bytes{common.HexToAddress(testIdentity): {0x60, 0x80}},
	}
	url := newRPCServer(t, eth)

	f, err := NewEthFactory(FactoryConfig{RPCURLs: []string{url}, DialsPerSecond: 100, DialBurst: 5},
		WithDialer(ethclient.DialContext))
	if err != nil {
		t.Fatal(err)
	}
	c, err := connector.New(connector.DefaultConfig(), f, connector.WithSleeper(util.NoSleep))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.SetWallet(testIdentity)

	h, err := c.GetConnection(context.Background())
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if !h.IsSmartContractWallet {
		t.Error("expected contract wallet detection from eth_getCode")
	}
	if h.ChainID.Int64() != 137 {
		t.Errorf("unexpected chain %s", h.ChainID)
	}
}

func TestEthFactory_WrongChainSurfacesNetworkError(t *testing.T) {
	url := newRPCServer(t, &fakeEth{chainID: 80002})
	f, err := NewEthFactory(FactoryConfig{RPCURLs: []string{url}})
	if err != nil {
		t.Fatal(err)
	}
	c, err := connector.New(connector.DefaultConfig(), f, connector.WithSleeper(util.NoSleep))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.SetWallet(testIdentity)

	_, err = c.GetConnection(context.Background())
	var netErr *connector.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestEndpointTracker_MedianLatency(t *testing.T) {
	et := NewEndpointTracker([]string{"https://rpc1.example.com"}, 137)

	for _, ms := range []int{100, 900, 120, 110, 130, 140} {
		et.ObserveProbe("https://rpc1.example.com", 137, time.Duration(ms)*time.Millisecond)
	}

	// the 100ms sample has left the window; the 900ms spike does not move the median
	if lat := et.Snapshot()[0].Latency; lat != 130*time.Millisecond {
		t.Errorf("expected median latency 130ms, got %v", lat)
	}
}

func TestEndpointTracker_BenchAndRecover(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	et := NewEndpointTracker([]string{"https://rpc1.example.com", "https://rpc2.example.com", "https://rpc1.example.com", ""}, 137)
	et.now = func() time.Time { return now }

	if et.Len() != 2 {
		t.Fatalf("duplicates and blanks should be dropped, got %d endpoints", et.Len())
	}

	for i := 0; i < benchAfterFailures; i++ {
		et.ObserveFailure("https://rpc1.example.com")
	}
	got := et.Candidates()
	if len(got) != 1 || got[0] != "https://rpc2.example.com" {
		t.Fatalf("expected only rpc2, got %v", got)
	}
	if snap := et.Snapshot(); snap[0].Status != EndpointBenched || snap[0].Healthy {
		t.Errorf("rpc1 should be benched, got %+v", snap[0])
	}

	now = now.Add(benchFor)
	got = et.Candidates()
	if len(got) != 2 || got[1] != "https://rpc1.example.com" {
		t.Fatalf("expected rpc1 as a trailing retry, got %v", got)
	}

	et.ObserveProbe("https://rpc1.example.com", 137, 10*time.Millisecond)
	if got = et.Candidates(); got[0] != "https://rpc1.example.com" {
		t.Errorf("a serving endpoint should sort before an unprobed one, got %v", got)
	}
}

func TestEndpointTracker_Ordering(t *testing.T) {
	et := NewEndpointTracker([]string{"slow", "fast", "unprobed", "testnet", "flaky"}, 137)
	et.ObserveProbe("slow", 137, 300*time.Millisecond)
	et.ObserveProbe("fast", 137, 50*time.Millisecond)
	et.ObserveProbe("testnet", 80002, time.Millisecond)
	et.ObserveProbe("flaky", 137, time.Millisecond)
	et.ObserveFailure("flaky")

	want := []string{"fast", "slow", "unprobed", "flaky", "testnet"}
	got := et.Candidates()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	for _, ep := range et.Snapshot() {
		if ep.URL == "testnet" && (ep.Status != EndpointWrongChain || ep.ChainID != 80002 || ep.Healthy) {
			t.Errorf("unexpected testnet endpoint %+v", ep)
		}
	}
}

func TestEndpointTracker_AnyChain(t *testing.T) {
	et := NewEndpointTracker([]string{"a"}, 0)
	et.ObserveProbe("a", 80002, time.Millisecond)
	if st := et.Snapshot()[0].Status; st != EndpointServing {
		t.Errorf("without a required chain every answer serves, got %s", st)
	}
}

func TestEthFactory_WrongChainEndpointSortsLast(t *testing.T) {
	testnet := newRPCServer(t, &fakeEth{chainID: 80002})
	mainnet := newRPCServer(t, &fakeEth{chainID: 137})

	f, err := NewEthFactory(FactoryConfig{RPCURLs: []string{testnet, mainnet}, ChainID: 137})
	if err != nil {
		t.Fatal(err)
	}

	// first dial lands on the testnet endpoint and learns its chain
	wc, err := f.Client(context.Background(), testIdentity)
	if err != nil {
		t.Fatal(err)
	}
	wc.Close()

	if got := f.Tracker().Candidates(); got[len(got)-1] != testnet {
		t.Errorf("wrong-chain endpoint should be tried last, got %v", got)
	}
}

func newTestKeystore(t *testing.T) *Keystore {
	t.Helper()
	k, err := NewKeystore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestKeystore_UnlockAndSign(t *testing.T) {
	k := newTestKeystore(t)

	addr, err := k.ImportKey("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", "pw")
	if err != nil {
		t.Fatalf("ImportKey: %v", err)
	}
	if !k.Has(addr) {
		t.Fatal("imported account missing")
	}

	if _, err := k.TransactOpts(addr, big.NewInt(137)); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked before unlock, got %v", err)
	}
	if err := k.Unlock(addr, "wrong"); err == nil {
		t.Error("expected wrong password to fail")
	}
	if err := k.Unlock(addr, "pw"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	opts, err := k.TransactOpts(addr, big.NewInt(137))
	if err != nil {
		t.Fatalf("TransactOpts: %v", err)
	}
	if opts.From != addr {
		t.Errorf("expected From %s, got %s", addr.Hex(), opts.From.Hex())
	}

	k.Lock(addr)
	if k.IsUnlocked(addr) {
		t.Error("expected account to be locked again")
	}
}

func TestKeystore_UnknownAccount(t *testing.T) {
	k := newTestKeystore(t)
	if err := k.Unlock(common.HexToAddress(testIdentity), "pw"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := k.ImportKey("zz", "pw"); err == nil {
		t.Error("expected invalid key error")
	}
}

func TestEthFactory_SignerFromKeystore(t *testing.T) {
	k := newTestKeystore(t)
	addr, err := k.CreateAccount("pw")
	if err != nil {
		t.Fatal(err)
	}
	if err := k.Unlock(addr, "pw"); err != nil {
		t.Fatal(err)
	}

	url := newRPCServer(t, &fakeEth{chainID: 137})
	f, err := NewEthFactory(FactoryConfig{RPCURLs: []string{url}}, WithKeystore(k))
	if err != nil {
		t.Fatal(err)
	}
	wc, err := f.Client(context.Background(), addr.Hex())
	if err != nil {
		t.Fatal(err)
	}
	defer wc.Close()

	if !wc.CanSign() {
		t.Error("expected unlocked keystore account to sign")
	}
	opts, err := wc.(*Client).TransactOpts(context.Background())
	if err != nil {
		t.Fatalf("TransactOpts: %v", err)
	}
	if opts.From != addr || opts.Context == nil {
		t.Errorf("unexpected opts: from=%s ctx=%v", opts.From.Hex(), opts.Context)
	}
}
