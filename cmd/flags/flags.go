package flags

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/tee-function-client/common"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var GatewayURLFlag = &cli.StringFlag{
	Name:    "gateway-url",
	Usage:   "enclave gateway base URL (wss:// or https://)",
	EnvVars: []string{"ENCLAVE_GATEWAY_URL"},
}

var GatewayDomainFlag = &cli.StringFlag{
	Name:  "gateway-domain",
	Usage: "deployment domain to resolve gateways from via DNS SRV, used when --gateway-url is not set",
}

var DNSServerFlag = &cli.StringFlag{
	Name:  "dns-server",
	Usage: "DNS server for gateway SRV resolution (host:port), defaults to the local stub resolver",
}

var TrustRootFlag = &cli.StringFlag{
	Name:     "trust-root",
	Required: true,
	Usage:    "trust root location URI: file://, https://, s3://bucket/key?region=.. or ipfs://host:port/cid",
}

var TrustRootPinFlag = &cli.StringFlag{
	Name:  "trust-root-pin",
	Usage: "hex SHA-256 digest the fetched trust root must match",
}

var CredentialFlag = &cli.StringFlag{
	Name:    "credential",
	Usage:   "account credential; overrides the auth file",
	EnvVars: []string{"ENCLAVE_CREDENTIAL"},
}

var AuthFileFlag = &cli.StringFlag{
	Name:    "auth-file",
	Usage:   "path to the auth file, defaults to the user config directory",
	EnvVars: []string{"ENCLAVE_AUTH_FILE"},
}

var VaultCredentialFlag = &cli.StringFlag{
	Name:  "credential-vault",
	Usage: "fetch the credential from Vault: vault://host:port/<mount>/<path>",
}

var MeasurementsFlag = &cli.StringFlag{
	Name:  "measurements",
	Usage: "path to a JSON file mapping register index to accepted hex digests",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}
