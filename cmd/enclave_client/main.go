package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/tee-function-client/cmd/flags"
	"github.com/ruteri/tee-function-client/credstore"
	"github.com/ruteri/tee-function-client/enclave"
	"github.com/ruteri/tee-function-client/interfaces"
	"github.com/ruteri/tee-function-client/resolver"
	"github.com/ruteri/tee-function-client/trustroot"
	"github.com/ruteri/tee-function-client/userencrypt"
)

var flagFunctionID = &cli.StringFlag{
	Name:     "function-id",
	Required: true,
	Usage:    "identifier of the deployed function",
}
var flagChecksum = &cli.StringFlag{
	Name:  "checksum",
	Usage: "hex digest the deployed function's code must match",
}
var flagFunctionCredential = &cli.StringFlag{
	Name:  "function-credential",
	Usage: "function-scoped credential; used instead of the account credential",
}
var flagInput = &cli.StringFlag{
	Name:  "input",
	Usage: "payload file, '-' for stdin",
	Value: "-",
}
var flagKeyCacheDir = &cli.StringFlag{
	Name:  "key-cache-dir",
	Usage: "directory to cache the account public key in",
}

func main() {
	app := &cli.App{
		Name:  "enclave-client",
		Usage: "invoke functions inside attested enclaves",
		Flags: append([]cli.Flag{
			flags.GatewayURLFlag,
			flags.GatewayDomainFlag,
			flags.DNSServerFlag,
			flags.TrustRootFlag,
			flags.TrustRootPinFlag,
			flags.CredentialFlag,
			flags.AuthFileFlag,
			flags.VaultCredentialFlag,
			flags.MeasurementsFlag,
			flags.LogServiceFlagFn("enclave-client"),
		}, flags.CommonFlags...),
		Commands: []*cli.Command{
			{
				Name:        "run",
				Usage:       "invoke a function once and print its result",
				Description: "Connects, attests, sends the payload over the encrypted channel and prints the response to stdout.",
				Flags: []cli.Flag{
					flagFunctionID,
					flagChecksum,
					flagFunctionCredential,
					flagInput,
				},
				Action: runAction,
			},
			{
				Name:        "key",
				Usage:       "fetch the account's public key",
				Description: "Retrieves the account public key from the gateway's attested key endpoint and prints it as PEM.",
				Flags: []cli.Flag{
					flagKeyCacheDir,
				},
				Action: keyAction,
			},
			{
				Name:        "encrypt",
				Usage:       "envelope-encrypt a payload under the account key",
				Description: "Fetches the account public key and prints the envelope-encrypted payload, recoverable only inside the enclave.",
				Flags: []cli.Flag{
					flagInput,
					flagKeyCacheDir,
				},
				Action: encryptAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runAction(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	client, err := newClient(cCtx, logger)
	if err != nil {
		return err
	}

	fn, err := interfaces.NewFunctionRef(
		cCtx.String(flagFunctionID.Name),
		cCtx.String(flagChecksum.Name),
		interfaces.Credential(cCtx.String(flagFunctionCredential.Name)),
	)
	if err != nil {
		return err
	}
	payload, err := readInput(cCtx.String(flagInput.Name))
	if err != nil {
		return err
	}

	result, err := client.Run(cCtx.Context, fn, payload)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(result)
	return err
}

func keyAction(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	client, err := newClient(cCtx, logger)
	if err != nil {
		return err
	}
	key, err := client.Key(cCtx.Context, enclave.KeyOptions{
		CacheDir: cCtx.String(flagKeyCacheDir.Name),
	})
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(key)
	return err
}

func encryptAction(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	client, err := newClient(cCtx, logger)
	if err != nil {
		return err
	}
	keyPEM, err := client.Key(cCtx.Context, enclave.KeyOptions{
		CacheDir: cCtx.String(flagKeyCacheDir.Name),
	})
	if err != nil {
		return err
	}
	accountKey, err := userencrypt.ParsePublicKey(keyPEM)
	if err != nil {
		return err
	}
	payload, err := readInput(cCtx.String(flagInput.Name))
	if err != nil {
		return err
	}
	encrypted, err := userencrypt.Encrypt(payload, accountKey)
	if err != nil {
		return err
	}
	fmt.Println(encrypted)
	return nil
}

func newClient(cCtx *cli.Context, logger *slog.Logger) (*enclave.Client, error) {
	gatewayURL := cCtx.String(flags.GatewayURLFlag.Name)
	if gatewayURL == "" {
		domain := cCtx.String(flags.GatewayDomainFlag.Name)
		if domain == "" {
			return nil, fmt.Errorf("either --%s or --%s is required", flags.GatewayURLFlag.Name, flags.GatewayDomainFlag.Name)
		}
		gateways, err := resolver.New(cCtx.String(flags.DNSServerFlag.Name)).ResolveGateway(domain)
		if err != nil {
			return nil, err
		}
		gatewayURL = gateways[0].URL()
	}

	store, err := trustroot.Load(cCtx.Context, cCtx.String(flags.TrustRootFlag.Name), trustroot.LoadOptions{
		SHA256Pin: cCtx.String(flags.TrustRootPinFlag.Name),
	}, logger)
	if err != nil {
		return nil, err
	}

	credentials, err := credentialProvider(cCtx)
	if err != nil {
		return nil, err
	}
	measurements, err := loadMeasurements(cCtx.String(flags.MeasurementsFlag.Name))
	if err != nil {
		return nil, err
	}

	return enclave.NewClient(enclave.Config{
		GatewayURL:   gatewayURL,
		TrustRoot:    store,
		Credentials:  credentials,
		Measurements: measurements,
		Log:          logger,
	})
}

func credentialProvider(cCtx *cli.Context) (interfaces.CredentialProvider, error) {
	if cred := cCtx.String(flags.CredentialFlag.Name); cred != "" {
		return credstore.NewStaticProvider(interfaces.Credential(cred)), nil
	}
	if vaultURI := cCtx.String(flags.VaultCredentialFlag.Name); vaultURI != "" {
		return credstore.NewVaultProvider(vaultURI)
	}
	return credstore.NewFileProvider(cCtx.String(flags.AuthFileFlag.Name))
}

func loadMeasurements(path string) (map[int][]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read measurements file: %w", err)
	}
	var measurements map[int][]string
	if err := json.Unmarshal(data, &measurements); err != nil {
		return nil, fmt.Errorf("malformed measurements file: %w", err)
	}
	return measurements, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
