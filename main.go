package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"movedit/config"
	"movedit/core"
)

const usage = `Usage: movedit [-config file] [-v] <command> [args]
Commands:
  probe   <file>                          print the atom tree
  info    <file>                          print movie and track properties
  clip    <in> <start> <duration> <out>   cut a section into a new file
  append  <in> <other> <out>              append other to in
  flatten <in> <out>                      write a self-contained copy
  still   <in> <seconds> <out>            export one video frame
  config  [out]                           print the effective settings, or save them to out`

// Helper to print atom tree structure
func printTree(atoms []core.Atom, indent string) {
	for _, atom := range atoms {
		fmt.Printf("%s%s\n", indent, atom)
		if len(atom.Children) > 0 {
			printTree(atom.Children, indent+"  ")
		}
	}
}

func main() {
	fs := flag.NewFlagSet("movedit", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	verbose := fs.Bool("v", false, "Verbose logging")
	fs.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	level := cfg.Level()
	if *verbose {
		level = logrus.DebugLevel
	}
	initLogger(level)
	core.Enter(cfg.Options(log))

	if err := run(cfg, fs.Arg(0), fs.Args()[1:]); err != nil {
		log.Errorf("%s: %v", fs.Arg(0), err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadConfigFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config, command string, args []string) error {
	if command == "config" {
		return showConfig(cfg, args)
	}
	need := map[string]int{"probe": 1, "info": 1, "clip": 4, "append": 3, "flatten": 2, "still": 3}
	n, ok := need[command]
	if !ok {
		return fmt.Errorf("unknown command\n%s", usage)
	}
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d\n%s", n, len(args), usage)
	}

	switch command {
	case "probe":
		return probe(args[0])
	case "info":
		m, err := core.Open(args[0])
		if err != nil {
			return err
		}
		defer m.Dispose()
		printInfo(m)
		return nil
	}

	m, err := core.Open(args[0])
	if err != nil {
		return err
	}
	defer m.Dispose()
	opts := cfg.FlattenOptions()
	opts.Progress = progressLogger("flatten")

	switch command {
	case "clip":
		start, err := parseSeconds(args[1])
		if err != nil {
			return err
		}
		dur, err := parseSeconds(args[2])
		if err != nil {
			return err
		}
		clip, err := m.ClipSection(start, dur, progressLogger("clip"))
		if err != nil {
			return err
		}
		defer clip.Dispose()
		return save(clip, args[3], opts)

	case "append":
		other, err := core.Open(args[1])
		if err != nil {
			return err
		}
		defer other.Dispose()
		if err := m.AppendMovie(other, progressLogger("append")); err != nil {
			return err
		}
		return save(m, args[2], opts)

	case "flatten":
		return save(m, args[1], opts)

	default: // still
		at, err := parseSeconds(args[1])
		if err != nil {
			return err
		}
		if err := m.ExportStillImage(args[2], at); err != nil {
			return err
		}
		fmt.Printf("Exported frame at %.3fs to %s\n", at, args[2])
		return nil
	}
}

func showConfig(cfg *config.Config, args []string) error {
	switch len(args) {
	case 0:
		return config.WriteConfig(os.Stdout, cfg)
	case 1:
		if err := config.SaveConfigFile(cfg, args[0]); err != nil {
			return err
		}
		fmt.Printf("Wrote settings to %s\n", args[0])
		return nil
	default:
		return fmt.Errorf("expected at most 1 argument, got %d\n%s", len(args), usage)
	}
}

func probe(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	atoms, err := core.FastProbe(file)
	if err != nil {
		return err
	}
	printTree(atoms, "")

	found := make(map[string]bool)
	collectTypes(atoms, found)
	fmt.Printf("\nCritical Check: moov=%v, edts=%v, ctts=%v\n", found["moov"], found["edts"], found["ctts"])
	return nil
}

func collectTypes(atoms []core.Atom, found map[string]bool) {
	for _, a := range atoms {
		found[a.Type] = true
		collectTypes(a.Children, found)
	}
}

func printInfo(m *core.Movie) {
	b := m.Bounds()
	fmt.Printf("Movie: %s\n", m.Path())
	fmt.Printf("  Duration %.3fs (%d @ %d), %d tracks, bounds %gx%g\n",
		m.Duration(), m.RawDuration(), m.TimeScale(), m.TrackCount(), b.Width(), b.Height())

	for _, t := range m.Tracks() {
		fmt.Printf("  - Track %d (%s): %.3fs, TimeScale %d, Frames %d, Offset %.3fs, Enabled %v\n",
			t.ID(), t.MediaType(), t.Duration(), t.TimeScale(), t.FrameCount(), t.Offset(), t.Enabled())

		for _, e := range t.Edits() {
			if e.Empty() {
				fmt.Printf("      edit: empty for %d\n", e.Duration)
			} else {
				fmt.Printf("      edit: %d from media %d at rate %.2f\n", e.Duration, e.MediaTime, float64(e.Rate)/0x10000)
			}
		}

		d, err := t.Descriptor()
		if err != nil {
			fmt.Printf("      description: %v\n", err)
			continue
		}
		if d == nil {
			continue
		}
		codec, _ := d.Codec()
		fmt.Printf("      format %q codec %q\n", d.Format(), codec)
		if dims, ok := d.DisplayPixelDimensions(); ok {
			ar, _ := d.AspectRatio()
			fmt.Printf("      %gx%g (%s), %.2f fps\n", dims.Width, dims.Height, ar, t.FrameRate())
		}
		if info, ok := d.H264(); ok {
			fmt.Printf("      H.264 profile %d level %d, coded %dx%d\n", info.Profile, info.Level, info.Width, info.Height)
		}
		if roles, ok := d.ChannelLayout(); ok {
			rate, _ := d.SampleRate()
			fmt.Printf("      %g Hz, channels %v, volume %.2f\n", rate, roles, t.Volume())
		}
	}
}

func save(m *core.Movie, path string, opts core.FlattenOptions) error {
	out, err := m.Flatten(path, opts)
	if err != nil {
		return err
	}
	defer out.Dispose()
	fmt.Printf("Created %s: %.3fs, %d tracks\n", path, out.Duration(), out.TrackCount())
	return nil
}

func parseSeconds(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return v, nil
}

// progressLogger logs every quarter of an operation.
func progressLogger(op string) core.ProgressFunc {
	next := 0.0
	return func(f float64) {
		for f >= next && next <= 1 {
			log.Debugf("%s %3.0f%%", op, next*100)
			next += 0.25
		}
	}
}
