// Server = base-chain components + layer-2 client + db/state + http reporter.
// All components are configured via environment variables (strings!).

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"

	"github.com/crosslayer/funding-go/assembler"
	"github.com/crosslayer/funding-go/coordinator"
	"github.com/crosslayer/funding-go/gateway"
	"github.com/crosslayer/funding-go/lockmonitor"
	"github.com/crosslayer/funding-go/reporter"
	"github.com/crosslayer/funding-go/state"
	"github.com/crosslayer/funding-go/utxo"
	"github.com/crosslayer/funding-go/vault"
)

// Default params for server.
// More often we don't recommend users to tweak those.
// So we list them here.
const (
	// how often leaked reservations from a crashed host are swept
	frequencyToSweepReservations = 60 * time.Second
)

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type FundingServerConfig struct {
	// base-chain side
	RpcServer   string           // rpc server info
	RpcPort     string           // rpc server info
	RpcUsername string           // rpc server info
	RpcPwd      string           // rpc server info
	ChainConfig *chaincfg.Params // regtest, testnet, mainnet? see assembler/common.go
	WalletPriv  string           // WIF private key of the funding wallet (who signs and receives change)
	FeePerKB    int64            // deterministic fee rate, 0 = default

	// finality wait
	LockTimeout     time.Duration // 0 = default
	FallbackTimeout time.Duration // 0 = default

	// state side
	DbFilePath string // db file path

	// layer-2 side
	PlatformUrl string // eg. http://127.0.0.1:3000

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080
}

// FundingServer holds the objects that consists of the funding server.
type FundingServer struct {
	RpcClient   *gateway.RpcClient
	Wallet      *gateway.RpcWallet
	Signer      *assembler.NativeSigner
	StateDb     *state.StateDB
	Vault       *vault.ReservationTable
	Platform    *gateway.HttpPlatformClient
	Coordinator *coordinator.Coordinator
	Reporter    *reporter.HttpReporter
}

// NewFundingServer creates a new funding server.
// ctx is used for parental context to cancel the operation of the server.
// wg is used to wait for the goroutines inside the server to finish.
func NewFundingServer(fsc *FundingServerConfig, ctx context.Context, wg *sync.WaitGroup) (*FundingServer, error) {
	// 0) connect to the base-chain network
	rpcClient, err := SetupRpc(fsc.RpcServer, fsc.RpcPort, fsc.RpcUsername, fsc.RpcPwd)
	if err != nil {
		logger.Fatalf("cannot connect to rpc server with %s:%s %v", fsc.RpcServer, fsc.RpcPort, err)
		return nil, err
	}

	// 1) local signer (signs inputs, receives change, owns the tracked address)
	signer, err := assembler.NewNativeSigner(fsc.WalletPriv, fsc.ChainConfig)
	if err != nil {
		logger.Fatalf("cannot create native signer: %v", err)
		return nil, err
	}
	wallet := gateway.NewRpcWallet(rpcClient, signer.P2PKH)

	// 2) sql db, and related state db + reservation vault
	sqldb, err := sql.Open("sqlite3", fsc.DbFilePath)
	if err != nil {
		logger.Fatalf("failed to open db file: %v", err)
		return nil, err
	}
	stateDb, err := state.NewStateDB(sqldb)
	if err != nil {
		logger.Fatalf("failed to create state db: %v", err)
		return nil, err
	}
	vaultStorage, err := vault.NewSQLiteStorage(sqldb)
	if err != nil {
		logger.Fatalf("failed to create vault storage: %v", err)
		return nil, err
	}
	reservations := vault.NewReservationTable(vaultStorage)

	// 3) layer-2 client
	platform := gateway.NewHttpPlatformClient(fsc.PlatformUrl)

	// 4) the coordinator over all of the above
	feePerKB := fsc.FeePerKB
	if feePerKB <= 0 {
		feePerKB = utxo.DefaultFeePerKB
	}
	monitorCfg := lockmonitor.DefaultConfig()
	if fsc.LockTimeout > 0 {
		monitorCfg.LockTimeout = fsc.LockTimeout
	}
	if fsc.FallbackTimeout > 0 {
		monitorCfg.FallbackTimeout = fsc.FallbackTimeout
	}

	myCoordinator := coordinator.New(
		&coordinator.Config{
			ChainConfig:   fsc.ChainConfig,
			FeePerKB:      feePerKB,
			ChangeAddress: signer.ChangeAddress(),
			Monitor:       monitorCfg,
		},
		stateDb,
		reservations,
		wallet,
		signer,
		rpcClient,
		rpcClient,
		platform,
	)

	// 5) http reporter (read-only status surface)
	myReporter := reporter.NewHttpReporter(fsc.HttpIp, fsc.HttpPort, stateDb)
	go myReporter.Run()

	// 6) periodic sweep of leaked reservations
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(frequencyToSweepReservations)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := reservations.ReleaseByExpire(); err != nil {
					logger.Errorf("reservation sweep failed: err=%v", err)
				}
			}
		}
	}()

	return &FundingServer{
		RpcClient:   rpcClient,
		Wallet:      wallet,
		Signer:      signer,
		StateDb:     stateDb,
		Vault:       reservations,
		Platform:    platform,
		Coordinator: myCoordinator,
		Reporter:    myReporter,
	}, nil
}

// StartFundingServerAndWait creates the server and blocks until a signal.
func StartFundingServerAndWait(fsc *FundingServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up a signal channel to listen for Ctrl‑C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Launch a new goroutine to handle the signal
	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal: %v, cancelling context...\n", sig)
		cancel()
	}()

	var wg sync.WaitGroup

	_, err := NewFundingServer(fsc, ctx, &wg)
	if err != nil {
		logger.Fatalf("failed to create funding server: %v", err)
		return
	}

	// wait for all routines to finish
	wg.Wait()
}
