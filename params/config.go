package params

import (
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type API struct {
	ListenAddr string
	// Origins allowed to call the REST/WS surface.
	CORSOrigins []string
}

type Node struct {
	DBPath  string
	LogFile string
	// Custody is the contract's own address: the counterparty for token
	// escrow and the source of withdrawal transfers.
	Custody common.Address
}

type Signing struct {
	// ChainID scopes EIP-712 signatures to one deployment.
	ChainID *big.Int
}

type Config struct {
	API     API
	Node    Node
	Signing Signing
}

func Default() Config {
	return Config{
		API: API{
			ListenAddr:  ":8080",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Node: Node{
			DBPath:  "data/openswap.db",
			LogFile: "data/swapd.log",
			Custody: common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		},
		Signing: Signing{
			ChainID: big.NewInt(1337),
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("API_LISTEN_ADDR"); addr != "" {
		cfg.API.ListenAddr = addr
	}
	if origins := os.Getenv("API_CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = strings.Split(origins, ",")
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		cfg.Node.DBPath = path
	}
	if path := os.Getenv("LOG_FILE"); path != "" {
		cfg.Node.LogFile = path
	}
	if custody := os.Getenv("CUSTODY_ADDRESS"); common.IsHexAddress(custody) {
		cfg.Node.Custody = common.HexToAddress(custody)
	}
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		if id, ok := new(big.Int).SetString(chainID, 10); ok && id.Sign() > 0 {
			cfg.Signing.ChainID = id
		}
	}

	return cfg
}
