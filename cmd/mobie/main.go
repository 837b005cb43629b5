// Command-line interface for adding image volumes to a MoBIE project.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/janelia-flyem/mobie/dataset"
	"github.com/janelia-flyem/mobie/importer"
	"github.com/janelia-flyem/mobie/maxid"
	"github.com/janelia-flyem/mobie/metadata"
	"github.com/janelia-flyem/mobie/mobie"
	"github.com/janelia-flyem/mobie/workflow"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version is the release of the command, set at link time.
var Version = "0.3.0"

var (
	configFile string
	runVerbose bool

	config *tomlConfig
)

// jobFlags are the execution settings shared by the commands that submit workflows.
type jobFlags struct {
	tmpFolder string
	target    string
	maxJobs   int
}

func (f *jobFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.tmpFolder, "tmp_folder", "", "folder for temporary computation files")
	fs.StringVar(&f.target, "target", workflow.DefaultTarget, "computation target")
	fs.IntVar(&f.maxJobs, "max_jobs", 0, "number of jobs, 0 for the number of cores")
}

// resolve applies configuration file values for flags that weren't given.
func (f *jobFlags) resolve(cmd *cobra.Command) {
	if !cmd.Flags().Changed("target") && config.Workflow.Target != "" {
		f.target = config.Workflow.Target
	}
	if !cmd.Flags().Changed("max_jobs") && config.Workflow.MaxJobs != 0 {
		f.maxJobs = config.Workflow.MaxJobs
	}
}

func newImporter() (*importer.Importer, error) {
	engine, err := config.Engine()
	if err != nil {
		return nil, err
	}
	imp := importer.New(engine)
	imp.Shebang = config.Workflow.Shebang
	imp.Groupname = config.Workflow.Groupname
	return imp, nil
}

// parseVolumeArgs decodes the json-encoded resolution, scale factors and chunks.
func parseVolumeArgs(args []string) (mobie.Resolution, mobie.ScaleFactors, mobie.Shape, error) {
	res, err := mobie.ParseResolution(args[0])
	if err != nil {
		return nil, nil, nil, err
	}
	factors, err := mobie.ParseScaleFactors(args[1])
	if err != nil {
		return nil, nil, nil, err
	}
	chunks, err := mobie.ParseShape(args[2])
	if err != nil {
		return nil, nil, nil, err
	}
	return res, factors, chunks, nil
}

type addFunc func(context.Context, *importer.Importer, dataset.Request) error

func addVolumeCmd(use, short string, add addFunc) *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   use + " <input_path> <input_key> <root> <dataset_name> <image_name> <resolution> <scale_factors> <chunks>",
		Short: short,
		Long: short + `.

Resolution (in micrometer), scale factors and chunks are json-encoded and given in
z, y, x order, e.g.

	mobie ` + use + ` data.n5 raw ./project em raw "[0.04, 0.01, 0.01]" "[[1, 2, 2], [2, 2, 2]]" "[32, 128, 128]"`,
		Args: cobra.ExactArgs(8),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.resolve(cmd)
			res, factors, chunks, err := parseVolumeArgs(args[5:])
			if err != nil {
				return err
			}
			imp, err := newImporter()
			if err != nil {
				return err
			}
			req := dataset.Request{
				InputPath:    args[0],
				InputKey:     args[1],
				Root:         args[2],
				DatasetName:  args[3],
				ImageName:    args[4],
				Resolution:   res,
				ScaleFactors: factors,
				Chunks:       chunks,
				TmpFolder:    flags.tmpFolder,
				Target:       flags.target,
				MaxJobs:      flags.maxJobs,
			}
			return add(cmd.Context(), imp, req)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func segmentationCmd() *cobra.Command {
	cmd := addVolumeCmd("add-segmentation", "Add a segmentation volume to a dataset", dataset.AddSegmentation)
	cmd.Long += `

The maxId attribute of the output is taken from the input dataset if it has one.
HDF5 inputs are not read for it, so their max id is always computed by the
statistics workflow, even if the file already stores a maxId.`
	return cmd
}

func addMaxIDCmd() *cobra.Command {
	var flags jobFlags
	cmd := &cobra.Command{
		Use:   "add-max-id <input_path> <input_key> <output_path> <output_key>",
		Short: "Store the max id of a segmentation as maxId attribute of the output dataset",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.resolve(cmd)
			engine, err := config.Engine()
			if err != nil {
				return err
			}
			tmp := flags.tmpFolder
			if tmp == "" {
				tmp = "tmp_max_id"
			}
			opts := workflow.Options{TmpFolder: tmp, Target: flags.target, MaxJobs: flags.maxJobs}
			input := maxid.Ref{Path: args[0], Key: args[1]}
			output := maxid.Ref{Path: args[2], Key: args[3]}
			id, err := maxid.Add(cmd.Context(), input, output, engine, opts)
			if err != nil {
				return err
			}
			fmt.Printf("%s: maxId = %d\n", output, id)
			return nil
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func addDatasetCmd() *cobra.Command {
	var isDefault bool
	cmd := &cobra.Command{
		Use:   "add-dataset <root> <dataset_name>",
		Short: "Create a dataset in a project and register it in datasets.json",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return metadata.AddDataset(args[0], args[1], isDefault)
		},
	}
	cmd.Flags().BoolVar(&isDefault, "default", false, "make this the default dataset of the project")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mobie %s (catalog version %s)\n", Version, metadata.SpecVersion)
		},
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mobie",
		Short:         "Add image and segmentation volumes to MoBIE projects",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if runVerbose {
				mobie.Verbose = true
				mobie.SetLogMode(mobie.DebugMode)
			}
			var err error
			if config, err = LoadConfig(configFile); err != nil {
				return err
			}
			config.Logging.SetLogger()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "TOML configuration file")
	root.PersistentFlags().BoolVar(&runVerbose, "verbose", false, "run in verbose mode")

	root.AddCommand(
		addVolumeCmd("add-image", "Add an intensity volume to a dataset", dataset.AddImageData),
		segmentationCmd(),
		addMaxIDCmd(),
		addDatasetCmd(),
		versionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	mobie.Shutdown()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mobie: %v\n", err)
		os.Exit(1)
	}
}
