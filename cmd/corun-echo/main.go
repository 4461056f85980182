// corun-echo is a demonstrator: a TCP server that accepts connections,
// reads one request, writes a canned response, and closes — entirely
// on a single corun.Scheduler with no per-connection goroutine.
//
// Grounded on original_source/tests/corun_server.py's server_task/
// server_client pair, restructured around the public Scheduler/Ctx
// façade instead of raw SystemCall generators, with cobra/viper for
// flag and environment handling in the style of
// 88lin-divinesense/cmd/divinesense/main.go.
package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/corunio/corun"
	"github.com/corunio/corun/internal/netfd"
)

const cannedResponse = "HTTP/1.0 200 OK\r\nServer: corun-echo\r\nContent-Length: 0\r\n\r\n"

var rootCmd = &cobra.Command{
	Use:   "corun-echo",
	Short: "Cooperative-scheduler demonstrator: a minimal concurrent echo/HTTP responder",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(
			viper.GetString("addr"),
			viper.GetDuration("idle-bound"),
			viper.GetBool("verbose"),
		)
	},
}

func init() {
	rootCmd.Flags().String("addr", "localhost:9999", "address to listen on")
	rootCmd.Flags().Duration("idle-bound", 100*time.Millisecond, "max poll latency when the scheduler is otherwise idle")
	rootCmd.Flags().Bool("verbose", false, "enable debug-level logging")

	for _, name := range []string{"addr", "idle-bound", "verbose"} {
		if err := viper.BindPFlag(name, rootCmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("corun_echo")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run(addr string, idleBound time.Duration, verbose bool) error {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	listenFD, err := netfd.ListenerFD(ln)
	if err != nil {
		return err
	}
	logger.Info().Str("addr", addr).Msg("corun-echo: listening")

	sched, err := corun.NewScheduler(
		corun.WithLogger(logger),
		corun.WithIdleBound(idleBound),
	)
	if err != nil {
		syscall.Close(listenFD)
		return err
	}

	if _, err := sched.Spawn("acceptor", acceptLoop(listenFD, sched, logger)); err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("corun-echo: shutting down")
		sched.Shutdown()
		return nil
	})

	return g.Wait()
}

// acceptLoop mirrors corun_server.py's server_task: block for read
// readiness on the listening socket, then drain every connection the
// kernel has queued before suspending again.
func acceptLoop(listenFD int, sched *corun.Scheduler, logger zerolog.Logger) corun.FlowFunc {
	return func(ctx *corun.Ctx) error {
		for {
			if ok := ctx.ReadReady(listenFD); !ok {
				return nil
			}
			for {
				connFD, _, err := syscall.Accept(listenFD)
				if err != nil {
					if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
						break
					}
					logger.Error().Err(err).Msg("corun-echo: accept failed")
					break
				}
				if err := syscall.SetNonblock(connFD, true); err != nil {
					syscall.Close(connFD)
					continue
				}
				if _, err := sched.Spawn("client", serveClient(connFD)); err != nil {
					syscall.Close(connFD)
				}
			}
		}
	}
}

// serveClient mirrors corun_server.py's server_client: wait for the
// request, discard it, wait for writability, send the canned response,
// close.
func serveClient(connFD int) corun.FlowFunc {
	return func(ctx *corun.Ctx) error {
		defer syscall.Close(connFD)

		if ok := ctx.ReadReady(connFD); !ok {
			return nil
		}
		buf := make([]byte, 1024)
		if _, err := syscall.Read(connFD, buf); err != nil && err != syscall.EAGAIN {
			return err
		}

		if ok := ctx.WriteReady(connFD); !ok {
			return nil
		}
		_, err := syscall.Write(connFD, []byte(cannedResponse))
		return err
	}
}
