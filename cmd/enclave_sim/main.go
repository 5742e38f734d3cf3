package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/tee-function-client/cmd/flags"
	"github.com/ruteri/tee-function-client/enclavesim"
)

var flagListenAddr = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on",
}
var flagTrustRootOut = &cli.StringFlag{
	Name:  "trust-root-out",
	Value: "simroot.pem",
	Usage: "file to write the simulator's root certificate to; clients pin it as their trust root",
}
var flagCredentials = &cli.StringSliceFlag{
	Name:  "accept-credential",
	Usage: "credential to accept; repeatable, accepts any non-empty credential when unset",
}
var flagDrainSeconds = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

func main() {
	app := &cli.App{
		Name:  "enclave-sim",
		Usage: "run a local simulated enclave gateway",
		Flags: append([]cli.Flag{
			flagListenAddr,
			flagTrustRootOut,
			flagCredentials,
			flagDrainSeconds,
			flags.LogServiceFlagFn("enclave-sim"),
		}, flags.CommonFlags...),
		Action: runSimulator,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runSimulator(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	identity, err := enclavesim.NewIdentity()
	if err != nil {
		return err
	}
	rootOut := cCtx.String(flagTrustRootOut.Name)
	if err := os.WriteFile(rootOut, identity.RootPEM, 0o644); err != nil {
		return err
	}
	logger.Info("Wrote trust root", "path", rootOut)

	credentials := make(map[string]bool)
	for _, cred := range cCtx.StringSlice(flagCredentials.Name) {
		credentials[cred] = true
	}

	registry := enclavesim.NewRegistry()
	registry.Register("echo", []byte("echo"), enclavesim.Echo)

	srv, err := enclavesim.New(&enclavesim.Config{
		ListenAddr:               cCtx.String(flagListenAddr.Name),
		Log:                      logger,
		Credentials:              credentials,
		DrainDuration:            time.Duration(cCtx.Int64(flagDrainSeconds.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             60 * time.Second,
	}, identity, registry)
	if err != nil {
		return err
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	srv.RunInBackground()
	<-exit

	srv.Shutdown()
	return nil
}
