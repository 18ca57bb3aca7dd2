package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/kubewarden/posture-scanner/internal/catalogue"
	"github.com/kubewarden/posture-scanner/internal/constants"
	"github.com/kubewarden/posture-scanner/internal/credentials"
	"github.com/kubewarden/posture-scanner/internal/executor"
	"github.com/kubewarden/posture-scanner/internal/metrics"
	"github.com/kubewarden/posture-scanner/internal/report"
	"github.com/kubewarden/posture-scanner/internal/scan"
	"github.com/kubewarden/posture-scanner/internal/scheme"
)

const (
	defaultCatalogueDir = "/etc/posture-scanner/benchmarks"

	credentialStoreKubernetes = "kubernetes"
	credentialStoreFile       = "file"
)

// engineConfig gathers the flags shared by the commands running scans.
type engineConfig struct {
	catalogueDir        string
	namespace           string
	credentialStore     string
	credentialsFile     string
	secretPrefix        string
	parallelChecks      int
	checkTimeout        time.Duration
	gracePeriod         time.Duration
	credentialsChannel  string
	credentialsTempDir  string
	maxOutputBytes      int
	infraErrorThreshold int
	infraErrorPatterns  []string
	reportKind          string
	disableStore        bool
	keepHistory         bool
	outputScan          bool
	otelEndpoint        string
	events              string
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("namespace", "n", constants.DefaultNamespace, "namespace holding the tenant credential Secrets and the scan reports")
	cmd.Flags().String("credential-store", credentialStoreKubernetes, fmt.Sprintf("where tenant credentials are read from. Supported values are '%s' and '%s'", credentialStoreKubernetes, credentialStoreFile))
	cmd.Flags().String("credentials-file", "", "YAML file with the tenant credentials, used with --credential-store=file. It must not be accessible by group or others")
	cmd.Flags().String("secret-prefix", credentials.DefaultSecretPrefix, "prefix of the name of the Secret holding the credentials of a tenant")
	cmd.Flags().Int("parallel-checks", scan.DefaultParallelChecks, "number of checks of a scan executed in parallel")
	cmd.Flags().Duration("check-timeout", executor.DefaultTimeout, "timeout of checks that do not define their own")
	cmd.Flags().Duration("grace-period", scan.DefaultGracePeriod, "how long running checks may finish after a scan is cancelled before they are killed")
	cmd.Flags().String("credentials-channel", string(executor.ChannelFile), fmt.Sprintf("how credentials are handed to check scripts. Supported values are '%s' and '%s'", executor.ChannelFile, executor.ChannelStdin))
	cmd.Flags().String("credentials-tmpdir", "", "directory where credential files are created, the system temporary directory when empty")
	cmd.Flags().Int("max-output-bytes", executor.DefaultMaxOutputBytes, "maximum number of bytes of script output kept for parsing")
	cmd.Flags().Int("infra-error-threshold", 0, "fail the scan after this many consecutive checks errored with the same infrastructure error. 0 disables the policy")
	cmd.Flags().StringSlice("infra-error-pattern", nil, "regular expression identifying an infrastructure error. This flag can be repeated")
	cmd.Flags().String("report-kind", report.PolicyReportKind, "Report resource kind used to store the scan records. Supported values are 'openreport' and 'policyreport'")
	cmd.Flags().Bool("disable-store", false, "disable storing the scan records in the Kubernetes cluster")
	cmd.Flags().Bool("keep-history", false, "keep the reports of previous scans of the same tenant and benchmark")
	cmd.Flags().BoolP("output-scan", "o", false, "print the record of every scan as JSON to stdout")
	cmd.Flags().String("otel-endpoint", "", "OpenTelemetry collector endpoint metrics are pushed to. Metrics are disabled when empty")
	cmd.Flags().String("events", "", "file the progress events of the scans are appended to as JSON lines, '-' for stdout. Disabled when empty")
	cmd.MarkFlagsMutuallyExclusive("keep-history", "disable-store")
}

//nolint:funlen // reading every flag is expected to be long.
func loadEngineConfig(cmd *cobra.Command) (engineConfig, error) {
	var cfg engineConfig
	var err error

	if cfg.catalogueDir, err = cmd.Flags().GetString("catalogue-dir"); err != nil {
		return cfg, fmt.Errorf("failed to get catalogue-dir flag: %w", err)
	}
	if cfg.namespace, err = cmd.Flags().GetString("namespace"); err != nil {
		return cfg, fmt.Errorf("failed to get namespace flag: %w", err)
	}
	if cfg.credentialStore, err = cmd.Flags().GetString("credential-store"); err != nil {
		return cfg, fmt.Errorf("failed to get credential-store flag: %w", err)
	}
	if cfg.credentialsFile, err = cmd.Flags().GetString("credentials-file"); err != nil {
		return cfg, fmt.Errorf("failed to get credentials-file flag: %w", err)
	}
	if cfg.secretPrefix, err = cmd.Flags().GetString("secret-prefix"); err != nil {
		return cfg, fmt.Errorf("failed to get secret-prefix flag: %w", err)
	}
	if cfg.parallelChecks, err = cmd.Flags().GetInt("parallel-checks"); err != nil {
		return cfg, fmt.Errorf("failed to get parallel-checks flag: %w", err)
	}
	if cfg.checkTimeout, err = cmd.Flags().GetDuration("check-timeout"); err != nil {
		return cfg, fmt.Errorf("failed to get check-timeout flag: %w", err)
	}
	if cfg.gracePeriod, err = cmd.Flags().GetDuration("grace-period"); err != nil {
		return cfg, fmt.Errorf("failed to get grace-period flag: %w", err)
	}
	if cfg.credentialsChannel, err = cmd.Flags().GetString("credentials-channel"); err != nil {
		return cfg, fmt.Errorf("failed to get credentials-channel flag: %w", err)
	}
	if cfg.credentialsTempDir, err = cmd.Flags().GetString("credentials-tmpdir"); err != nil {
		return cfg, fmt.Errorf("failed to get credentials-tmpdir flag: %w", err)
	}
	if cfg.maxOutputBytes, err = cmd.Flags().GetInt("max-output-bytes"); err != nil {
		return cfg, fmt.Errorf("failed to get max-output-bytes flag: %w", err)
	}
	if cfg.infraErrorThreshold, err = cmd.Flags().GetInt("infra-error-threshold"); err != nil {
		return cfg, fmt.Errorf("failed to get infra-error-threshold flag: %w", err)
	}
	if cfg.infraErrorPatterns, err = cmd.Flags().GetStringSlice("infra-error-pattern"); err != nil {
		return cfg, fmt.Errorf("failed to get infra-error-pattern flag: %w", err)
	}
	if cfg.reportKind, err = cmd.Flags().GetString("report-kind"); err != nil {
		return cfg, fmt.Errorf("failed to get report-kind flag: %w", err)
	}
	if cfg.disableStore, err = cmd.Flags().GetBool("disable-store"); err != nil {
		return cfg, fmt.Errorf("failed to get disable-store flag: %w", err)
	}
	if cfg.keepHistory, err = cmd.Flags().GetBool("keep-history"); err != nil {
		return cfg, fmt.Errorf("failed to get keep-history flag: %w", err)
	}
	if cfg.outputScan, err = cmd.Flags().GetBool("output-scan"); err != nil {
		return cfg, fmt.Errorf("failed to get output-scan flag: %w", err)
	}
	if cfg.otelEndpoint, err = cmd.Flags().GetString("otel-endpoint"); err != nil {
		return cfg, fmt.Errorf("failed to get otel-endpoint flag: %w", err)
	}
	if cfg.events, err = cmd.Flags().GetString("events"); err != nil {
		return cfg, fmt.Errorf("failed to get events flag: %w", err)
	}
	return cfg, nil
}

// engine is the wired scan runtime with the resources it owns.
type engine struct {
	catalogue *catalogue.Catalogue
	registry  *scan.Registry
	runtime   *scan.Runtime
	shutdown  []func(context.Context) error
}

// Close releases what the engine started, flushing the metrics.
func (e *engine) Close(ctx context.Context) error {
	var errs []error
	for _, fn := range e.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

//nolint:funlen // This function wires every component and it's expected to be long.
func newEngine(ctx context.Context, cmd *cobra.Command, cfg engineConfig, logger *slog.Logger) (*engine, error) {
	channel, err := executor.ParseChannelMode(cfg.credentialsChannel)
	if err != nil {
		return nil, err
	}
	var reportKind report.CrdKind
	if !cfg.disableStore {
		if reportKind, err = report.ParseKind(cfg.reportKind); err != nil {
			return nil, err
		}
	}

	benchmarks, err := catalogue.Load(cfg.catalogueDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}
	cat := catalogue.New(benchmarks...)
	logger.InfoContext(ctx, "catalogue loaded",
		slog.String("root", cfg.catalogueDir),
		slog.Int("benchmarks", len(benchmarks)))

	var restConfig *rest.Config
	kubeConfig := func() (*rest.Config, error) {
		if restConfig != nil {
			return restConfig, nil
		}
		c, err := ctrl.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
		}
		restConfig = c
		return restConfig, nil
	}

	var secretStore credentials.SecretStore
	switch cfg.credentialStore {
	case credentialStoreFile:
		if cfg.credentialsFile == "" {
			return nil, errors.New("--credentials-file is required with --credential-store=file")
		}
		if secretStore, err = credentials.NewFileStore(cfg.credentialsFile); err != nil {
			return nil, err
		}
	case credentialStoreKubernetes:
		config, err := kubeConfig()
		if err != nil {
			return nil, err
		}
		clientset, err := kubernetes.NewForConfig(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
		}
		secretStore = credentials.NewKubernetesStore(clientset, cfg.namespace, cfg.secretPrefix, logger)
	default:
		return nil, fmt.Errorf("invalid credential-store '%s': supported values are '%s' and '%s'", cfg.credentialStore, credentialStoreKubernetes, credentialStoreFile)
	}

	var stores report.Stores
	if !cfg.disableStore {
		config, err := kubeConfig()
		if err != nil {
			return nil, err
		}
		reportScheme, err := scheme.NewScheme()
		if err != nil {
			return nil, fmt.Errorf("failed to create scheme: %w", err)
		}
		c, err := client.New(config, client.Options{Scheme: reportScheme})
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
		}
		store, err := report.NewReportStoreOfKind(reportKind, c, cfg.namespace, cfg.keepHistory, logger)
		if err != nil {
			return nil, err
		}
		stores = append(stores, store)
	}
	if cfg.outputScan {
		stores = append(stores, report.NewJSONStore(cmd.OutOrStdout()))
	}

	e := &engine{catalogue: cat, registry: scan.NewRegistry()}

	var recorder scan.Notifier
	if cfg.otelEndpoint != "" {
		shutdown, err := metrics.New(ctx, cfg.otelEndpoint)
		if err != nil {
			return nil, err
		}
		e.shutdown = append(e.shutdown, shutdown)
		r, err := metrics.NewRecorder(nil)
		if err != nil {
			return nil, errors.Join(err, e.Close(ctx))
		}
		recorder = r
	}

	var progress scan.Notifier
	if cfg.events != "" {
		out, closeOut, err := openEvents(cmd, cfg.events)
		if err != nil {
			return nil, errors.Join(err, e.Close(ctx))
		}
		sink := newEventSink(out, logger)
		e.shutdown = append(e.shutdown, sink.Close, closeOut)
		progress = sink.broadcaster
	}

	scanConfig := scan.Config{
		Resolver:  credentials.NewResolver(secretStore, logger),
		Catalogue: cat,
		Executor: executor.New(executor.Config{
			DefaultTimeout: cfg.checkTimeout,
			Channel:        channel,
			TempDir:        cfg.credentialsTempDir,
			MaxOutputBytes: cfg.maxOutputBytes,
		}, logger),
		Notifier: scan.Notifiers(scan.NewLogNotifier(logger), recorder, progress),
		Registry: e.registry,
		Parallelization: scan.ParallelizationConfig{
			ParallelChecks: cfg.parallelChecks,
		},
		GracePeriod: cfg.gracePeriod,
		InfraErrorPolicy: scan.InfraErrorPolicy{
			Threshold: cfg.infraErrorThreshold,
			Patterns:  cfg.infraErrorPatterns,
		},
		Logger: logger,
	}
	if len(stores) > 0 {
		scanConfig.RecordStore = stores
	}

	if e.runtime, err = scan.NewRuntime(scanConfig); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create scan runtime: %w", err), e.Close(ctx))
	}
	return e, nil
}

// openEvents returns the writer progress events go to and the function
// closing it.
func openEvents(cmd *cobra.Command, path string) (io.Writer, func(context.Context) error, error) {
	if path == "-" {
		return cmd.OutOrStdout(), func(context.Context) error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open events file: %w", err)
	}
	return f, func(context.Context) error { return f.Close() }, nil
}
