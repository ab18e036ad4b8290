package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Me-Phew/simple485-remastered/logger"
	"github.com/Me-Phew/simple485-remastered/simple485"
	"github.com/Me-Phew/simple485-remastered/transport/serialport"
)

// duration parses YAML values like "10ms" or "1s"; yaml.v3 cannot decode
// time.Duration from strings on its own.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = duration(parsed)

	return nil
}

// Profile is the YAML bus profile shared by all subcommands. Zero values
// fall back to the engine defaults.
type Profile struct {
	Device  string `yaml:"device"`
	BitRate int    `yaml:"bit_rate"`

	LineReadyTime         duration `yaml:"line_ready_time"`
	TransceiverToggleTime duration `yaml:"transceiver_toggle_time"`
	PacketTimeout         duration `yaml:"packet_timeout"`

	// RTSTransmitControl drives the transceiver direction from the port's
	// RTS line; requires a transport that exposes it.
	RTSTransmitControl bool `yaml:"rts_transmit_control"`
	TxActiveLow        bool `yaml:"tx_active_low"`

	RequestTimeout duration `yaml:"request_timeout"`
	MaxRetries     *int     `yaml:"max_retries"`

	LogLevel string `yaml:"log_level"`
}

// loadProfile reads a YAML profile file, with flag overrides for the device
// and bit rate applied afterwards by the caller.
func loadProfile(path string) (*Profile, error) {
	p := &Profile{}

	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}

	return p, nil
}

func (p *Profile) logger() logger.Logger {
	level := logger.InfoLevel
	switch p.LogLevel {
	case "debug":
		level = logger.DebugLevel
	case "", "info":
		level = logger.InfoLevel
	case "warn":
		level = logger.WarnLevel
	case "error":
		level = logger.ErrorLevel
	}

	return logger.NewSlog(level, false)
}

// busConfig opens nothing; it assembles the transport and engine
// configuration described by the profile.
func (p *Profile) busConfig() (*simple485.Config, error) {
	if p.Device == "" {
		return nil, fmt.Errorf("no serial device configured (flag --device or profile key 'device')")
	}

	if p.BitRate <= 0 {
		return nil, fmt.Errorf("no bit rate configured (flag --bit-rate or profile key 'bit_rate')")
	}

	port, err := serialport.New(serialport.Config{
		Device:  p.Device,
		BitRate: p.BitRate,
	})
	if err != nil {
		return nil, err
	}

	opts := []simple485.Option{simple485.WithLogger(p.logger())}
	if p.LineReadyTime > 0 {
		opts = append(opts, simple485.WithLineReadyTime(time.Duration(p.LineReadyTime)))
	}
	if p.TransceiverToggleTime > 0 {
		opts = append(opts, simple485.WithTransceiverToggleTime(time.Duration(p.TransceiverToggleTime)))
	}
	if p.PacketTimeout > 0 {
		opts = append(opts, simple485.WithPacketTimeout(time.Duration(p.PacketTimeout)))
	}
	if p.RTSTransmitControl {
		opts = append(opts, simple485.WithRTSTransmitControl())
	}
	if p.TxActiveLow {
		opts = append(opts, simple485.WithTxActiveLow())
	}

	return simple485.NewConfig(port, opts...)
}

// masterOptions translates the request-related profile keys.
func (p *Profile) masterOptions() []simple485.MasterOption {
	var opts []simple485.MasterOption
	if p.RequestTimeout > 0 {
		opts = append(opts, simple485.WithRequestTimeout(time.Duration(p.RequestTimeout)))
	}
	if p.MaxRetries != nil {
		opts = append(opts, simple485.WithMaxRetries(*p.MaxRetries))
	}

	return opts
}
