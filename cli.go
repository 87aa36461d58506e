package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// verboseLogKey enables debug logging when set to "true".
const verboseLogKey = "DOCSYNC_LOG_VERBOSE"

type rootFlags struct {
	configFile string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "docsync",
		Short: "Publish static documentation builds to S3",
		// main prints the returned error once.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogging(flags.verbose || os.Getenv(verboseLogKey) == "true")
		},
	}
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "full logging of debug messages")

	rootCmd.AddCommand(
		newSyncCommand(flags),
		newPublishCommand(flags),
		newPublishCICommand(flags),
		newMakeRedirectsCommand(flags),
	)
	return rootCmd
}

func setupLogging(verbose bool) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:          true,
		DisableLevelTruncation: true,
	})
	log.SetOutput(os.Stderr)
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

func loadAppConfig(flags *rootFlags) (AppConfig, error) {
	var files []string
	if flags.configFile != "" {
		files = append(files, flags.configFile)
	}
	appConfig, err := LoadConfig(files...)
	if err != nil {
		return appConfig, err
	}
	log.Debug("Configuration:")
	for _, line := range appConfig.ConfigStringArray() {
		log.Debug(line)
	}
	return appConfig, nil
}

// uploadFlags binds the per-run upload settings shared by sync and the
// publish commands. Flags only override the configuration when set.
type uploadFlags struct {
	noMarkers      bool
	acl            string
	maxAge         int
	noCacheControl bool
	skipUnchanged  bool
	concurrency    int
	dryRun         bool
}

func (u *uploadFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&u.noMarkers, "no-markers", false, "do not write directory redirect marker objects")
	cmd.Flags().StringVar(&u.acl, "acl", "", "canned ACL applied to every object, e.g. public-read")
	cmd.Flags().IntVar(&u.maxAge, "max-age", DefaultCacheControlMaxAge, "Cache-Control max-age in seconds")
	cmd.Flags().BoolVar(&u.noCacheControl, "no-cache-control", false, "do not set a Cache-Control header")
	cmd.Flags().BoolVar(&u.skipUnchanged, "skip-unchanged", false, "skip files whose remote ETag matches the local MD5")
	cmd.Flags().IntVar(&u.concurrency, "concurrency", 0, "parallel uploads per directory")
	cmd.Flags().BoolVar(&u.dryRun, "dry-run", false, "log actions without changing the bucket")
}

func (u *uploadFlags) apply(cmd *cobra.Command, opts SyncOptions) SyncOptions {
	changed := cmd.Flags().Changed
	if changed("no-markers") {
		opts.WriteDirectoryMarkers = !u.noMarkers
	}
	if changed("acl") {
		opts.ACL = u.acl
	}
	if changed("max-age") {
		opts.CacheControlMaxAge = u.maxAge
	}
	if changed("no-cache-control") {
		opts.NoCacheControl = u.noCacheControl
	}
	if changed("skip-unchanged") {
		opts.SkipUnchanged = u.skipUnchanged
	}
	if changed("concurrency") {
		opts.Concurrency = u.concurrency
	}
	opts.DryRun = u.dryRun
	return opts
}

func newSyncCommand(flags *rootFlags) *cobra.Command {
	var (
		bucket       string
		prefix       string
		sourceDir    string
		surrogateKey string
		every        int
		cronExpr     string
		upload       uploadFlags
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror a local directory into a bucket prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appConfig, err := loadAppConfig(flags)
			if err != nil {
				return err
			}
			opts := upload.apply(cmd, appConfig.SyncOptions())
			opts.SurrogateKey = surrogateKey

			ctx := cmd.Context()
			client, err := NewS3BucketClient(ctx, appConfig.AWS)
			if err != nil {
				return err
			}
			notifier, err := newNotifier(ctx, appConfig)
			if err != nil {
				return err
			}
			syncer := NewSyncer(client, log.StandardLogger())

			runOnce := func(ctx context.Context) error {
				return syncAndNotify(ctx, syncer, notifier, bucket, prefix, sourceDir, opts)
			}

			schedule := appConfig.Schedule
			if cmd.Flags().Changed("every") {
				schedule.Interval = every
			}
			if cmd.Flags().Changed("cron") {
				schedule.Cron = cronExpr
			}
			if schedule.Interval > 0 || schedule.Cron != "" {
				return runScheduled(ctx, schedule, log.StandardLogger(), runOnce)
			}
			return runOnce(ctx)
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "destination bucket (required)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "destination key prefix (required)")
	cmd.Flags().StringVar(&sourceDir, "dir", "", "local build directory (required)")
	cmd.Flags().StringVar(&surrogateKey, "surrogate-key", "", "surrogate key metadata for CDN purges")
	cmd.Flags().IntVar(&every, "every", 0, "repeat the sync every N minutes")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "repeat the sync on a cron schedule")
	upload.register(cmd)
	for _, name := range []string{"bucket", "prefix", "dir"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func syncAndNotify(ctx context.Context, syncer *Syncer, notifier Notifier, bucket, prefix, sourceDir string, opts SyncOptions) error {
	result, err := syncer.Sync(ctx, bucket, prefix, sourceDir, opts)
	if errors.Is(err, errSyncInProgress) {
		return err
	}
	if notifier != nil {
		report := PublishReport{SourceDir: sourceDir, Bucket: bucket, Prefix: prefix, Result: result, Err: err}
		if result != nil {
			report.Duration = result.Duration
		}
		if notifyErr := notifier.NotifyPublishResults(report); notifyErr != nil {
			log.WithError(notifyErr).Warn("Sync notification failed")
		}
	}
	return err
}

func newNotifier(ctx context.Context, appConfig AppConfig) (Notifier, error) {
	if appConfig.Notify.Topic == "" {
		return nil, nil
	}
	return NewSNSNotifier(ctx, appConfig.AWS, appConfig.Notify)
}

func newPublisher(ctx context.Context, appConfig AppConfig, opts SyncOptions) (*Publisher, error) {
	var missing []string
	if appConfig.Keeper.URL == "" {
		missing = append(missing, "LTD_KEEPER_URL")
	}
	if appConfig.Keeper.User == "" {
		missing = append(missing, "LTD_KEEPER_USER")
	}
	if appConfig.Keeper.Password == "" {
		missing = append(missing, "LTD_KEEPER_PASSWORD")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("please set %s", strings.Join(missing, ", "))
	}

	client, err := NewS3BucketClient(ctx, appConfig.AWS)
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(ctx, appConfig)
	if err != nil {
		return nil, err
	}

	logger := log.StandardLogger()
	return &Publisher{
		Keeper:   NewKeeperClient(appConfig.Keeper, logger),
		Syncer:   NewSyncer(client, logger),
		Notifier: notifier,
		Logger:   logger,
		User:     appConfig.Keeper.User,
		Password: appConfig.Keeper.Password,
		Options:  opts,
	}, nil
}

func newPublishCommand(flags *rootFlags) *cobra.Command {
	var (
		manifestPath string
		htmlDir      string
		noUpload     bool
		upload       uploadFlags
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Register a build with the keeper, upload it and confirm it",
		Long: `Publish a built documentation site described by a YAML manifest.

The manifest is read from --manifest, or from stdin when the flag is
omitted or "-". Keeper and AWS access are configured with the environment
variables LTD_KEEPER_URL, LTD_KEEPER_USER, LTD_KEEPER_PASSWORD and
LTD_MASON_AWS_ID plus LTD_MASON_AWS_SECRET, or LTD_MASON_AWS_PROFILE.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manifest, err := readManifest(manifestPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if noUpload {
				log.Infof("Skipping upload of %s for %s", htmlDir, manifest.ProductName())
				return nil
			}

			appConfig, err := loadAppConfig(flags)
			if err != nil {
				return err
			}
			publisher, err := newPublisher(cmd.Context(), appConfig, upload.apply(cmd, appConfig.SyncOptions()))
			if err != nil {
				return err
			}
			return publisher.Publish(cmd.Context(), manifest, htmlDir)
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "path to the YAML manifest (default stdin)")
	cmd.Flags().StringVar(&htmlDir, "html-dir", "", "directory of the built HTML site (required)")
	cmd.Flags().BoolVar(&noUpload, "no-upload", false, "skip the upload to S3 and the keeper")
	upload.register(cmd)
	_ = cmd.MarkFlagRequired("html-dir")
	return cmd
}

func readManifest(manifestPath string, stdin io.Reader) (*YAMLManifest, error) {
	if manifestPath == "" || manifestPath == "-" {
		return ParseYAMLManifest(stdin)
	}
	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseYAMLManifest(f)
}

// ciBuildEnabled reports whether a CI job should publish: only when
// LTD_MASON_BUILD is true and the job is not a pull request build.
func ciBuildEnabled(lookup func(string) (string, bool)) (bool, string, error) {
	buildFlag, _ := lookup("LTD_MASON_BUILD")
	if !strings.EqualFold(buildFlag, "true") {
		return false, "LTD_MASON_BUILD is not true", nil
	}

	prFlag, ok := lookup("TRAVIS_PULL_REQUEST")
	if !ok {
		return false, "", errors.New("TRAVIS_PULL_REQUEST environment variable not found")
	}
	if !strings.EqualFold(prFlag, "false") {
		return false, "pull request build", nil
	}
	return true, "", nil
}

func newPublishCICommand(flags *rootFlags) *cobra.Command {
	var (
		htmlDir  string
		noUpload bool
		upload   uploadFlags
	)

	cmd := &cobra.Command{
		Use:   "publish-ci",
		Short: "Publish a site built by a CI job, configured from its environment",
		Long: `Publish a documentation site that a CI job already built.

Runs only when LTD_MASON_BUILD=true and TRAVIS_PULL_REQUEST=false. The
product comes from LTD_MASON_PRODUCT, the repository and branch from
TRAVIS_REPO_SLUG and TRAVIS_BRANCH.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enabled, reason, err := ciBuildEnabled(os.LookupEnv)
			if err != nil {
				return err
			}
			if !enabled {
				log.Infof("publish-ci skipping build: %s", reason)
				return nil
			}

			manifest, err := NewEnvManifest(os.LookupEnv)
			if err != nil {
				return err
			}
			if noUpload {
				return nil
			}

			appConfig, err := loadAppConfig(flags)
			if err != nil {
				return err
			}
			publisher, err := newPublisher(cmd.Context(), appConfig, upload.apply(cmd, appConfig.SyncOptions()))
			if err != nil {
				return err
			}
			absHTMLDir, err := filepath.Abs(os.ExpandEnv(htmlDir))
			if err != nil {
				return err
			}
			return publisher.Publish(cmd.Context(), manifest, absHTMLDir)
		},
	}
	cmd.Flags().StringVar(&htmlDir, "html-dir", "", "directory of the built HTML site (required)")
	cmd.Flags().BoolVar(&noUpload, "no-upload", false, "skip the upload to S3 and the keeper")
	upload.register(cmd)
	_ = cmd.MarkFlagRequired("html-dir")
	return cmd
}

func newMakeRedirectsCommand(flags *rootFlags) *cobra.Command {
	var (
		bucket  string
		baseDir string
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "make-redirects",
		Short: "Bulk-add directory redirect objects to an existing bucket",
		Long: `Add directory redirect marker objects to builds already in a bucket.

Markers are named after directories (no trailing slash) and carry
x-amz-meta-dir-redirect: true, which the CDN turns into a redirect to the
directory's index.html. "v" and "builds" directories are skipped. Regular
publishes maintain markers afterwards, so this only needs to run once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appConfig, err := loadAppConfig(flags)
			if err != nil {
				return err
			}
			client, err := NewS3BucketClient(cmd.Context(), appConfig.AWS)
			if err != nil {
				return err
			}

			attrs := ObjectAttrs{
				ACL:          "public-read",
				CacheControl: fmt.Sprintf("max-age=%d", DefaultCacheControlMaxAge),
			}
			logger := log.WithField("bucket", bucket)
			written, err := MakeRedirects(cmd.Context(), client, bucket, baseDir, defaultRedirectExemptions, attrs, dryRun, logger)
			if err != nil {
				return err
			}
			logger.Infof("Made %d redirect objects", len(written))
			return nil
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "bucket to add redirects to (required)")
	cmd.Flags().StringVar(&baseDir, "base-dir", "", "directory to make redirects in (default all directories)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "prevent objects from being uploaded")
	_ = cmd.MarkFlagRequired("bucket")
	return cmd
}
