// Command relayd serves the terminal relay: a WebSocket endpoint that
// bridges browser pages to telnet-speaking remotes, multiplexing any
// number of sessions per channel.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"archimedes-relay/internal/hostpolicy"
	"archimedes-relay/internal/relay"
)

const (
	// Version is the version
	Version = "0.1.0"
	// Usage is some informative text that shows at the top
	Usage = "WebSocket -> telnet terminal relay"
	// Description is the meat of the help.
	Description = `
	relayd bridges browser terminals to telnet-speaking remotes. One
	WebSocket channel carries any number of sessions; each session is an
	outbound telnet connection the relay dials on the client's behalf.

	To start:

		$ relayd -l localhost:8080 &

	And open ws://localhost:8080/relay from the page, or point relay-term
	at it.

	For a listing of flags:

		$ relayd --help
`

	// UsageText is the argument format for the command.
	UsageText = "relayd [flags]"
)

func main() {
	app := cli.NewApp()

	app.Name = "relayd"
	app.Version = Version
	app.Usage = Usage
	app.Description = Description
	app.UsageText = UsageText

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Usage: "host:port of the HTTP listener",
			Value: "localhost:8080",
		},
		cli.StringFlag{
			Name:  "allowlist,a",
			Usage: "path to the endpoint allowlist; empty permits any endpoint",
		},
		cli.StringFlag{
			Name:  "static,s",
			Usage: "directory of static files to serve at /",
		},
		cli.DurationFlag{
			Name:  "dial-timeout",
			Usage: "how long to wait for a remote endpoint to answer",
			Value: 10 * time.Second,
		},
		cli.BoolFlag{
			Name:  "debug,d",
			Usage: "enable debug logging",
		},
	}

	app.Action = start

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func start(cliCtx *cli.Context) error {
	if cliCtx.GlobalBool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	}

	policy, err := hostpolicy.Load(cliCtx.GlobalString("allowlist"))
	if err != nil {
		return errors.Wrap(err, "could not load endpoint allowlist")
	}
	defer policy.Close()

	srv := relay.New(policy, cliCtx.GlobalString("static"), cliCtx.GlobalDuration("dial-timeout"))

	httpSrv := &http.Server{
		Addr:    cliCtx.GlobalString("listen"),
		Handler: srv.Handler(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, unix.SIGTERM, unix.SIGINT)
	go func() {
		sig := <-sigChan
		logrus.Infof("received %s, shutting down", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(ctx)
	}()

	logrus.Infof("relay listening on %s", httpSrv.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "relay server failed")
	}
	return nil
}
