// modbridge CLI
//
// A Modbus protocol bridge: receives requests on one wire protocol
// (ASCII, RTU or TCP), re-renders them for another, and routes the
// responses back.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/commatea/modbridge/pkg/bridge"
	"github.com/commatea/modbridge/pkg/config"
	"github.com/commatea/modbridge/pkg/logger"
	"github.com/commatea/modbridge/pkg/modbus"
	"github.com/commatea/modbridge/pkg/transport"
	"github.com/commatea/modbridge/pkg/transport/serial"
	"github.com/commatea/modbridge/pkg/transport/tcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	version   = "1.0.0"
	buildTime = "dev"
	gitCommit = "unknown"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:     "modbridge",
		Short:   "modbridge - Modbus multi-transport bridge",
		Long:    "modbridge bridges Modbus traffic between ASCII, RTU and TCP links,\npreserving unit addressing and transaction identity across wire formats.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")

	rootCmd.AddCommand(
		newStartCmd(),
		newEncodeCmd(),
		newDecodeCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newStartCmd creates the start command.
func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start all configured bridges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}
}

func runStart() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(cfg.Bridges) == 0 {
		return fmt.Errorf("no bridges configured")
	}

	log := logger.New(cfg.Logging)
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info("metrics listening", "addr", cfg.Metrics.Listen)
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	var wg sync.WaitGroup
	for _, bc := range cfg.Bridges {
		b, err := buildBridge(bc, log)
		if err != nil {
			return fmt.Errorf("bridge %q: %w", bc.Name, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Run(ctx); err != nil {
				log.Error("bridge stopped", "bridge", b.Name(), "error", err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()
	return nil
}

func buildBridge(bc config.BridgeConfig, log *logger.Logger) (*bridge.Bridge, error) {
	near, err := buildEndpoint(bc.Near)
	if err != nil {
		return nil, err
	}
	far, err := buildEndpoint(bc.Far)
	if err != nil {
		return nil, err
	}
	return bridge.New(bridge.Config{
		Name:            bc.Name,
		Near:            near,
		Far:             far,
		ResponseTimeout: time.Duration(bc.ResponseTimeout),
	}, log)
}

func buildEndpoint(ec config.EndpointConfig) (bridge.Endpoint, error) {
	proto, err := modbus.ParseWireProtocol(ec.Protocol)
	if err != nil {
		return bridge.Endpoint{}, err
	}

	var tr transport.Transport
	switch ec.Transport.Type {
	case "serial":
		tr, err = serial.New(ec.Transport)
	case "tcp":
		tr, err = tcp.New(ec.Transport)
	default:
		err = fmt.Errorf("unknown transport type %q", ec.Transport.Type)
	}
	if err != nil {
		return bridge.Endpoint{}, err
	}
	return bridge.Endpoint{Transport: tr, Protocol: proto}, nil
}

// newEncodeCmd creates the encode command.
func newEncodeCmd() *cobra.Command {
	var protoName string
	var unit int
	var txn string

	cmd := &cobra.Command{
		Use:   "encode <hex-adu>",
		Short: "Encode an ADU (function code + payload, hex) as a wire frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, err := modbus.ParseWireProtocol(protoName)
			if err != nil {
				return err
			}
			adu, err := hex.DecodeString(strings.ReplaceAll(args[0], " ", ""))
			if err != nil {
				return fmt.Errorf("invalid hex adu: %w", err)
			}

			unitADU := append([]byte{byte(unit)}, adu...)
			var frame []byte
			switch proto {
			case modbus.ASCII:
				frame, err = modbus.EncodeASCII(unitADU)
			case modbus.RTU:
				frame, err = modbus.EncodeRTU(unitADU)
			case modbus.TCP:
				var txnBytes []byte
				if txn != "" {
					if txnBytes, err = hex.DecodeString(txn); err != nil {
						return fmt.Errorf("invalid hex txn id: %w", err)
					}
				}
				frame, err = modbus.EncodeTCP(unitADU, txnBytes)
			}
			if err != nil {
				return err
			}
			fmt.Printf("%X\n", frame)
			return nil
		},
	}

	cmd.Flags().StringVarP(&protoName, "protocol", "p", "rtu", "wire protocol: ascii, rtu, tcp")
	cmd.Flags().IntVarP(&unit, "unit", "u", modbus.DefaultUnitID, "unit/slave id")
	cmd.Flags().StringVarP(&txn, "txn", "t", "", "transaction id (hex, tcp only)")
	return cmd
}

// newDecodeCmd creates the decode command.
func newDecodeCmd() *cobra.Command {
	var protoName string

	cmd := &cobra.Command{
		Use:   "decode <hex-frame>",
		Short: "Decode a wire frame and print unit id and ADU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proto, err := modbus.ParseWireProtocol(protoName)
			if err != nil {
				return err
			}
			frame, err := hex.DecodeString(strings.ReplaceAll(args[0], " ", ""))
			if err != nil {
				return fmt.Errorf("invalid hex frame: %w", err)
			}

			var unitADU []byte
			switch proto {
			case modbus.ASCII:
				unitADU, err = modbus.DecodeASCII(frame)
			case modbus.RTU:
				unitADU, err = modbus.DecodeRTU(frame)
			case modbus.TCP:
				var txn []byte
				txn, unitADU, err = modbus.DecodeTCP(frame)
				if err == nil {
					fmt.Printf("txn:  %X\n", txn)
				}
			}
			if err != nil {
				return err
			}
			fmt.Printf("unit: %d\n", unitADU[0])
			fmt.Printf("adu:  %X\n", unitADU[1:])
			return nil
		},
	}

	cmd.Flags().StringVarP(&protoName, "protocol", "p", "rtu", "wire protocol: ascii, rtu, tcp")
	return cmd
}

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("modbridge %s\ncommit: %s\nbuilt:  %s\n", version, gitCommit, buildTime)
		},
	}
}
