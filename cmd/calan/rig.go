package main

import (
	"context"
	"fmt"

	"github.com/FrancoCalan/simulink-models/internal/app"
	"github.com/FrancoCalan/simulink-models/internal/archive"
	"github.com/FrancoCalan/simulink-models/internal/board"
	"github.com/FrancoCalan/simulink-models/internal/instrument"
	"github.com/FrancoCalan/simulink-models/internal/logging"
	"github.com/FrancoCalan/simulink-models/internal/telemetry"
)

// rigOptions selects which parts of the rig a subcommand needs.
type rigOptions struct {
	generators bool
}

// openRig connects to the board and instruments, or builds simulated ones
// with --mock. The returned function releases everything.
func (e *env) openRig(ctx context.Context, ro rigOptions) (app.Rig, func(), error) {
	cfg := e.cfg
	rig := app.Rig{Logger: e.logger, Reporter: e.reporter(ctx)}
	var closers []func() error
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				e.logger.Warn("close failed", logging.F("error", err.Error()))
			}
		}
	}

	if e.opts.mock {
		rf := instrument.NewMockGenerator()
		rig.Board = board.NewMock(cfg.MockModel(), cfg.Impairments(), rf)
		rig.RF = rf
		e.logger.Info("using simulated board", logging.F("variant", cfg.Model.Mode().String()), logging.F("channels", cfg.Model.Channels()))
	} else {
		b, err := board.DialKATCP(ctx, board.KATCPConfig{Addr: cfg.Board.IP, Timeout: cfg.Board.Timeout, Logger: e.logger})
		if err != nil {
			return app.Rig{}, release, fmt.Errorf("connect to board %s: %w", cfg.Board.IP, err)
		}
		rig.Board = b
		closers = append(closers, b.Close)

		if ro.generators {
			rf, err := instrument.DialSCPI(ctx, instrument.SCPIConfig{Addr: cfg.Generator.IP, Logger: e.logger})
			if err != nil {
				release()
				return app.Rig{}, func() {}, fmt.Errorf("connect to rf generator %s: %w", cfg.Generator.IP, err)
			}
			rig.RF = rf
			closers = append(closers, rf.Close)
			if cfg.LO.IP != "" {
				lo, err := instrument.DialSCPI(ctx, instrument.SCPIConfig{Addr: cfg.LO.IP, Logger: e.logger})
				if err != nil {
					release()
					return app.Rig{}, func() {}, fmt.Errorf("connect to lo generator %s: %w", cfg.LO.IP, err)
				}
				rig.LO = lo
				closers = append(closers, lo.Close)
			}
			if cfg.Noise.IP != "" {
				ns, err := instrument.DialSCPI(ctx, instrument.SCPIConfig{Addr: cfg.Noise.IP, Logger: e.logger})
				if err != nil {
					release()
					return app.Rig{}, func() {}, fmt.Errorf("connect to noise source %s: %w", cfg.Noise.IP, err)
				}
				rig.Noise = ns
				closers = append(closers, ns.Close)
			}
		}

		if cfg.Board.Upload {
			up, err := board.NewUploader(board.SSHConfig{
				Host:     cfg.Board.IP,
				User:     cfg.Board.SSHUser,
				Password: cfg.Board.SSHPassword,
				KeyPath:  cfg.Board.SSHKey,
				Timeout:  cfg.Board.Timeout,
			}, e.logger)
			if err != nil {
				release()
				return app.Rig{}, func() {}, err
			}
			rig.BofUploader = up
			closers = append(closers, up.Close)
		}
	}

	if s3cfg := cfg.Archive.S3; s3cfg.Bucket != "" {
		cli, err := archive.NewS3Client(ctx, archive.S3Config{
			Bucket:         s3cfg.Bucket,
			Prefix:         s3cfg.Prefix,
			Region:         s3cfg.Region,
			Endpoint:       s3cfg.Endpoint,
			AccessKey:      s3cfg.AccessKey,
			SecretKey:      s3cfg.SecretKey,
			ForcePathStyle: s3cfg.PathStyle,
		})
		if err != nil {
			release()
			return app.Rig{}, func() {}, err
		}
		pub, err := archive.NewS3Uploader(cli, s3cfg.Bucket, s3cfg.Prefix, e.logger)
		if err != nil {
			release()
			return app.Rig{}, func() {}, err
		}
		rig.Publisher = pub
	}
	return rig, release, nil
}

// reporter streams progress to the web hub when telemetry.addr is set and
// to the log otherwise.
func (e *env) reporter(ctx context.Context) telemetry.Reporter {
	if addr := e.cfg.Telemetry.Addr; addr != "" {
		hub := telemetry.NewHub(e.cfg.Telemetry.History)
		go telemetry.NewWebServer(addr, hub, e.logger).Start(ctx)
		return hub
	}
	return telemetry.NewStdoutReporter(e.logger)
}
