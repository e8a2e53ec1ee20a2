package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/FrancoCalan/simulink-models/internal/app"
	"github.com/FrancoCalan/simulink-models/internal/instrument"
)

func (e *env) runner(ctx context.Context, ro rigOptions) (*app.Runner, func(), error) {
	rig, release, err := e.openRig(ctx, ro)
	if err != nil {
		return nil, release, err
	}
	r, err := app.NewRunner(e.cfg, rig)
	if err != nil {
		release()
		return nil, func() {}, err
	}
	return r, release, nil
}

func newCalibrateCmd(e *env) *cobra.Command {
	var noise, multiLO bool
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Measure calibration data with a tone sweep over both sidebands, or with wide-band noise",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			r, release, err := e.runner(ctx, rigOptions{generators: true})
			defer release()
			if err != nil {
				return err
			}
			var archived string
			switch {
			case noise:
				res, err := r.CalibrateNoise(ctx)
				if err != nil {
					return err
				}
				archived = res.Archive
			case multiLO:
				res, err := r.CalibrateToneMultiLO(ctx)
				if err != nil {
					return err
				}
				archived = res.Archive
			default:
				res, err := r.CalibrateTone(ctx)
				if err != nil {
					return err
				}
				archived = res.Archive
			}
			fmt.Fprintln(cmd.OutOrStdout(), archived)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noise, "noise", false, "calibrate with the correlated noise source (balanced designs)")
	cmd.Flags().BoolVar(&multiLO, "multi-lo", false, "repeat the tone calibration at every LO of experiment.lo_freqs_mhz")
	cmd.MarkFlagsMutuallyExclusive("noise", "multi-lo")
	return cmd
}

type loadConstsOptions struct {
	ip     string
	bof    string
	upload bool
	caltar string
	caldir string
	ideal  bool
}

func (o loadConstsOptions) source() (string, error) {
	n := 0
	for _, set := range []bool{o.caltar != "", o.caldir != "", o.ideal} {
		if set {
			n++
		}
	}
	switch {
	case n == 0:
		return "", errors.New("one of --caltar, --caldir or --ideal is required")
	case n > 1:
		return "", errors.New("--caltar, --caldir and --ideal are mutually exclusive")
	case o.caltar != "":
		return o.caltar, nil
	default:
		return o.caldir, nil
	}
}

func newLoadConstsCmd(e *env) *cobra.Command {
	var o loadConstsOptions
	cmd := &cobra.Command{
		Use:   "load-consts",
		Short: "Compute constants from calibration data (or use the ideal constant) and load them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := o.source()
			if err != nil {
				return err
			}
			if o.ip != "" {
				e.cfg.Board.IP = o.ip
			}
			if o.bof != "" {
				e.cfg.Board.Boffile = o.bof
				e.cfg.Board.Program = true
			}
			if o.upload {
				e.cfg.Board.Upload = true
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			r, release, err := e.runner(ctx, rigOptions{})
			defer release()
			if err != nil {
				return err
			}
			if e.cfg.Board.Program {
				if err := r.Program(ctx); err != nil {
					return err
				}
			}
			if o.ideal {
				_, err = r.LoadIdeal(ctx)
			} else {
				_, err = r.LoadCalibration(ctx, src)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.ip, "ip", "", "board address, overrides board.ip")
	f.StringVar(&o.bof, "bof", "", "program this boffile before loading")
	f.BoolVar(&o.upload, "upload", false, "upload the boffile over ssh first (ROACH2)")
	f.StringVar(&o.caltar, "caltar", "", "calibration run packed as .tar.gz")
	f.StringVar(&o.caldir, "caldir", "", "calibration run directory")
	f.BoolVar(&o.ideal, "ideal", false, "load the ideal constant (experiment.ideal_const or the variant default)")
	return cmd
}

func newSyncCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-adc",
		Short: "Align the two ADCs by measuring and removing their relative delay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			r, release, err := e.runner(ctx, rigOptions{generators: true})
			defer release()
			if err != nil {
				return err
			}
			steps, err := r.SyncADC(ctx)
			out := cmd.OutOrStdout()
			for _, s := range steps {
				fmt.Fprintf(out, "iteration %d: delay %d (r²=%.3f) adc0_delay=%d adc1_delay=%d %s\n",
					s.Iteration, s.Delay, s.Fit.RSquared, s.ADC0Delay, s.ADC1Delay, s.State)
			}
			return err
		},
	}
}

type srrOptions struct {
	noise   bool
	multiLO bool
	caltar  string
}

func newSRRCmd(e *env) *cobra.Command {
	var o srrOptions
	cmd := &cobra.Command{
		Use:   "srr",
		Short: "Sweep a tone and measure the rejection ratio (SRR for dss, LNR for bm) with the loaded constants",
		Long: `Sweep a tone and measure the rejection ratio (SRR for dss, LNR for bm) with the loaded constants.

With --noise a balanced design is measured instead with the correlated noise
source off and then on. With --multi-lo the sweep is repeated at every LO of
experiment.lo_freqs_mhz, loading the matching constants of --caltar first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.caltar != "" && !o.multiLO {
				return errors.New("--caltar needs --multi-lo, use load-consts otherwise")
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			r, release, err := e.runner(ctx, rigOptions{generators: true})
			defer release()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case o.noise:
				res, err := r.MeasureNoiseRejection(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-8s %10s %10s\n", "channel", "if_mhz", "lnr_db")
				for i, v := range res.LNR {
					fmt.Fprintf(out, "%-8d %10.3f %10.2f\n", i, res.IFFreqs[i]/1e6, v)
				}
				fmt.Fprintln(out, res.Archive)
			case o.multiLO:
				res, err := r.MeasureRejectionMultiLO(ctx, o.caltar)
				if err != nil {
					return err
				}
				for _, m := range res.PerLO {
					fmt.Fprintf(out, "# %s\n", app.LOName(m.LOFreq))
					printRejection(out, m)
				}
				fmt.Fprintln(out, res.Archive)
			default:
				res, err := r.MeasureRejection(ctx)
				if err != nil {
					return err
				}
				printRejection(out, res)
				fmt.Fprintln(out, res.Archive)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&o.noise, "noise", false, "hot/cold LO noise rejection with the noise source (balanced designs)")
	f.BoolVar(&o.multiLO, "multi-lo", false, "repeat at every LO of experiment.lo_freqs_mhz")
	f.StringVar(&o.caltar, "caltar", "", "multi-LO calibration to load per LO")
	cmd.MarkFlagsMutuallyExclusive("noise", "multi-lo")
	return cmd
}

func printRejection(out io.Writer, res app.RejectionResult) {
	fmt.Fprintf(out, "%-8s %10s %10s %10s\n", "channel", "if_mhz", "usb_db", "lsb_db")
	for i, ch := range res.Channels {
		fmt.Fprintf(out, "%-8d %10.3f %10.2f %10.2f\n", ch, res.IFFreqs[i]/1e6, res.USB[i], res.LSB[i])
	}
}

func newDiscoverCmd(e *env) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse mDNS for LXI instruments with a raw SCPI socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			hosts, err := instrument.Discover(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				fmt.Fprintln(out, "no instruments found")
				return nil
			}
			for _, h := range hosts {
				fmt.Fprintf(out, "%s\t%s\n", h.Instance, h.Addr())
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "browse duration")
	return cmd
}
