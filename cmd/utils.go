package cmd

import (
	"os"

	logger "github.com/sirupsen/logrus"

	"github.com/crosslayer/funding-go/gateway"
)

// FileExists checks if a file exists and is readable
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// Shared Helper function. Create a base-chain rpc client.
func SetupRpc(server string, port string, username string, password string) (*gateway.RpcClient, error) {
	_config := gateway.RpcClientConfig{
		ServerAddr: server,
		Port:       port,
		Username:   username,
		Pwd:        password,
	}
	r, err := gateway.NewRpcClient(&_config)
	if err != nil {
		logger.Fatalf("failed to create base-chain rpc client: %v", err)
		return nil, err
	}
	return r, nil
}
