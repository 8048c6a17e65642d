package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cab2cab/c2cdump/internal/config"
	"github.com/cab2cab/c2cdump/internal/decoder"
	"github.com/cab2cab/c2cdump/internal/log"
	"github.com/cab2cab/c2cdump/internal/pipeline"
	"github.com/cab2cab/c2cdump/internal/proto"
	"github.com/cab2cab/c2cdump/internal/sink"
	"github.com/cab2cab/c2cdump/internal/source"
)

var (
	captureFile   string
	captureDevice string
	captureKind   string
	captureBPF    string
	dumpPath      string
	targetPort    uint16
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture and decode C2C traffic",
	Long: `Capture C2C traffic from a pcap file or a live device and decode it.

Without --file or --device the tool picks the first device with an address
in the cabinet link subnet (192.168.139.0/24).

Examples:
  c2cdump capture -f session.pcap             # replay a recorded capture
  c2cdump capture -d eth1 --dump plain.bin    # live capture with raw dump
  c2cdump capture -d eth1 --kind afpacket     # Linux AF_PACKET fast path`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringVarP(&captureFile, "file", "f", "", "pcap file to read from")
	captureCmd.Flags().StringVarP(&captureDevice, "device", "d", "", "network device to capture")
	captureCmd.Flags().StringVar(&captureKind, "kind", "", "live capture kind (pcap or afpacket)")
	captureCmd.Flags().StringVar(&captureBPF, "bpf", "", "extra BPF filter for live capture")
	captureCmd.Flags().StringVar(&dumpPath, "dump", "", "dump decrypted payloads to this file")
	captureCmd.Flags().Uint16Var(&targetPort, "port", 0, "override the target UDP port")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	applyCaptureFlags(cfg)

	if err := log.Init(cfg.Log); err != nil {
		return err
	}
	logger := log.GetLogger()

	src, err := source.New(cfg.Capture.Kind, cfg.Capture.Options)
	if err != nil {
		return err
	}

	codec, err := proto.NewCodec(nil)
	if err != nil {
		return err
	}

	sinks := sink.Multi{sink.NewConsole(logger)}
	if cfg.Dump.Enabled {
		dump, err := sink.NewDump(cfg.Dump.Path)
		if err != nil {
			return err
		}
		sinks = append(sinks, dump)
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.WithError(err).Error("closing sinks")
		}
	}()

	p := pipeline.New(pipeline.Config{
		Source: src,
		Decoder: decoder.New(decoder.Config{
			TargetPort:         cfg.Decoder.TargetPort,
			FragmentTimeout:    cfg.Decoder.FragmentTimeout,
			MaxFragmentBuffers: cfg.Decoder.MaxFragmentBuffers,
		}),
		Codec:      codec,
		Sinks:      sinks,
		BufferSize: cfg.Capture.BufferSize,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return p.Run(ctx)
}

// applyCaptureFlags folds command-line flags over the loaded configuration.
// Flags win over both file and environment.
func applyCaptureFlags(cfg *config.Config) {
	if cfg.Capture.Options == nil {
		cfg.Capture.Options = make(map[string]any)
	}
	if captureFile != "" {
		cfg.Capture.Kind = source.KindFile
		cfg.Capture.Options = map[string]any{"path": captureFile}
	}
	if captureDevice != "" {
		if captureKind == "" {
			captureKind = source.KindPcap
		}
		cfg.Capture.Kind = captureKind
		cfg.Capture.Options["device"] = captureDevice
	}
	if captureBPF != "" {
		cfg.Capture.Options["bpf_filter"] = captureBPF
	}
	if dumpPath != "" {
		cfg.Dump.Enabled = true
		cfg.Dump.Path = dumpPath
	}
	if targetPort != 0 {
		cfg.Decoder.TargetPort = targetPort
	}
}
