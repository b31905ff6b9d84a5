package main

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"

	"github.com/crosslayer/funding-go/cmd"
	"github.com/crosslayer/funding-go/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "FUNDING_CONFIG"
)

func main() {
	logconfig.ConfigProductionLogger()

	// Tool to read environment variables
	viper.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	fmt.Printf("Funding server configuration file = %s\n", _config_file)

	// See if file exists
	if !cmd.FileExists(_config_file) {
		fmt.Printf("Funding server configuration file not found: %s\n", _config_file)
		return
	}

	// Read from config file.
	success := initializeViper(_config_file)
	if !success {
		return
	}

	// Make the configuration
	fsc := PrepareFundingServerConfig()
	if fsc == nil {
		fmt.Printf("Error loading funding server configuration\n")
		return
	}

	fmt.Println("Starting funding server... press Ctrl+C to kill the server")
	// Start server and block.
	cmd.StartFundingServerAndWait(fsc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s", err)
		return false
	}
	return true
}

// PrepareFundingServerConfig reads configuration variables and returns a FundingServerConfig.
func PrepareFundingServerConfig() *cmd.FundingServerConfig {

	// *** prepare objects that aren't string type ***

	// Parse the base chain config (e.g., "regtest", "testnet", or "mainnet").
	var chainParams *chaincfg.Params
	switch viper.GetString("CHAIN_CONFIG") {
	case "testnet":
		chainParams = &chaincfg.TestNet3Params
	case "mainnet":
		chainParams = &chaincfg.MainNetParams
	case "regtest":
		chainParams = &chaincfg.RegressionNetParams
	default:
		// default to regtest
		chainParams = &chaincfg.RegressionNetParams
	}

	// *** end of preparing objects ***

	return &cmd.FundingServerConfig{
		// base-chain side
		RpcServer:   viper.GetString("RPC_SERVER"),
		RpcPort:     viper.GetString("RPC_PORT"),
		RpcUsername: viper.GetString("RPC_USERNAME"),
		RpcPwd:      viper.GetString("RPC_PWD"),
		ChainConfig: chainParams,
		WalletPriv:  viper.GetString("WALLET_PRIV"),
		FeePerKB:    viper.GetInt64("FEE_PER_KB"),
		// finality wait (seconds, 0 = defaults)
		LockTimeout:     time.Duration(viper.GetInt64("LOCK_TIMEOUT_SEC")) * time.Second,
		FallbackTimeout: time.Duration(viper.GetInt64("FALLBACK_TIMEOUT_SEC")) * time.Second,
		// state side
		DbFilePath: viper.GetString("DB_FILE_PATH"),
		// layer-2 side
		PlatformUrl: viper.GetString("PLATFORM_URL"),
		// Http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),
	}
}
