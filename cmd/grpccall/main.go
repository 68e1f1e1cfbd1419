// Command grpccall issues schema-free gRPC calls from the shell. The
// request payload is passed verbatim (use shell quoting or process
// substitution for binary data) and responses are written to stdout.
package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"

	godotgrpc "github.com/fredericalix/godot-grpc"
)

var (
	flagEndpoint   string
	flagTLS        bool
	flagAuthority  string
	flagKeepalive  int
	flagMaxRetries int
	flagDeadlineMS int64
	flagMetadata   []string
	flagVerbosity  int
)

var rootCmd = &cobra.Command{
	Use:           "grpccall",
	Short:         "schema-free gRPC client",
	Long:          "Issue unary and streaming gRPC calls without generated stubs.\nPayloads are opaque bytes; methods are addressed as /package.Service/Method.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var callCmd = &cobra.Command{
	Use:   "call METHOD [PAYLOAD]",
	Short: "perform a unary call",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connect(nil)
		if err != nil {
			return err
		}
		defer client.Close()

		resp, err := client.Unary(args[0], payloadArg(args), callOpts())
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(resp, '\n'))
		return err
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream METHOD [PAYLOAD]",
	Short: "perform a server-streaming call, printing each message",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		done := make(chan error, 1)
		var once sync.Once
		sink := godotgrpc.SinkFuncs{
			Message: func(_ int64, data []byte) {
				_, _ = os.Stdout.Write(append(data, '\n'))
			},
			Finished: func(_ int64, _ codes.Code, _ string) {
				once.Do(func() { done <- nil })
			},
			Error: func(_ int64, code codes.Code, message string) {
				once.Do(func() { done <- fmt.Errorf("stream failed: %s: %s", godotgrpc.CodeName(code), message) })
			},
		}

		client, err := connect(sink)
		if err != nil {
			return err
		}
		defer client.Close()

		if _, err := client.ServerStreamStart(args[0], payloadArg(args), callOpts()); err != nil {
			return err
		}
		return <-done
	},
}

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "list services via server reflection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connect(nil)
		if err != nil {
			return err
		}
		defer client.Close()

		services, err := client.ListServices(callOpts())
		if err != nil {
			return err
		}
		for _, s := range services {
			fmt.Println(s)
		}
		return nil
	},
}

var methodsCmd = &cobra.Command{
	Use:   "methods SERVICE",
	Short: "list a service's methods via server reflection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connect(nil)
		if err != nil {
			return err
		}
		defer client.Close()

		methods, err := client.ListMethods(args[0], callOpts())
		if err != nil {
			return err
		}
		for _, m := range methods {
			fmt.Printf("%s\tclient_streams=%v\tserver_streams=%v\n", m.FullMethod, m.ClientStreams, m.ServerStreams)
		}
		return nil
	},
}

func connect(sink godotgrpc.EventSink) (*godotgrpc.Client, error) {
	client := godotgrpc.New(sink)
	client.SetLogLevel(flagVerbosity)
	err := client.Connect(flagEndpoint, godotgrpc.ChannelOptions{
		MaxRetries:       flagMaxRetries,
		KeepaliveSeconds: flagKeepalive,
		EnableTLS:        flagTLS,
		Authority:        flagAuthority,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func callOpts() godotgrpc.CallOptions {
	opts := godotgrpc.CallOptions{DeadlineMillis: flagDeadlineMS}
	if len(flagMetadata) > 0 {
		md := metadata.MD{}
		for _, kv := range flagMetadata {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			md.Append(k, v)
		}
		opts.Metadata = md
	}
	return opts
}

func payloadArg(args []string) []byte {
	if len(args) > 1 {
		return []byte(args[1])
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&flagEndpoint, "endpoint", "e", "localhost:50051", "server endpoint (host:port)")
	rootCmd.PersistentFlags().BoolVar(&flagTLS, "tls", false, "use TLS with the system roots")
	rootCmd.PersistentFlags().StringVar(&flagAuthority, "authority", "", "override the :authority pseudo-header")
	rootCmd.PersistentFlags().IntVar(&flagKeepalive, "keepalive", 0, "keepalive ping interval in seconds (0 disables)")
	rootCmd.PersistentFlags().IntVar(&flagMaxRetries, "max-retries", 0, "enable bounded reconnect backoff")
	rootCmd.PersistentFlags().Int64Var(&flagDeadlineMS, "deadline-ms", 0, "per-call deadline in milliseconds (0 means none)")
	rootCmd.PersistentFlags().StringArrayVar(&flagMetadata, "metadata", nil, "call metadata as key=value (repeatable)")
	rootCmd.PersistentFlags().IntVarP(&flagVerbosity, "verbosity", "v", godotgrpc.LogLevelWarn, "log verbosity, 0 (none) to 5 (trace)")

	rootCmd.AddCommand(callCmd, streamCmd, servicesCmd, methodsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
