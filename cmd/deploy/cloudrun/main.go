// Command cloudrun deploys embedchat to Google Cloud Run with the Firestore
// config store.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const (
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorReset  = "\033[0m"

	adminTokenSecret = "embedchat-admin-token"
)

type Config struct {
	ProjectID      string
	Region         string
	ServiceName    string
	ImageName      string
	Repository     string
	PublicURL      string
	AdminToken     string
	AllowedOrigins string
	SkipBuild      bool
	SkipSecrets    bool
	SkipDeploy     bool
	Verbose        bool
	DryRun         bool
	MinInstances   int
	MaxInstances   int
	Memory         string
	Timeout        int
	Concurrency    int
}

func (c *Config) serviceAccount() string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", c.ServiceName, c.ProjectID)
}

func (c *Config) imageTag() string {
	return fmt.Sprintf("%s-docker.pkg.dev/%s/%s/%s:latest", c.Region, c.ProjectID, c.Repository, c.ImageName)
}

func main() {
	cfg := &Config{}

	flag.StringVar(&cfg.ProjectID, "project", os.Getenv("GCP_PROJECT"), "GCP project ID (also the Firestore project)")
	flag.StringVar(&cfg.Region, "region", getEnvDefault("GCP_REGION", "us-central1"), "GCP region")
	flag.StringVar(&cfg.ServiceName, "service", "embedchat", "Cloud Run service name")
	flag.StringVar(&cfg.ImageName, "image", "embedchat", "image name")
	flag.StringVar(&cfg.Repository, "repository", "embedchat", "Artifact Registry repository")
	flag.StringVar(&cfg.PublicURL, "public-url", os.Getenv("EMBEDCHAT_PUBLIC_URL"), "public origin written into embed codes")
	flag.StringVar(&cfg.AdminToken, "admin-token", os.Getenv("EMBEDCHAT_ADMIN_TOKEN"), "bearer token for the admin API")
	flag.StringVar(&cfg.AllowedOrigins, "allowed-origins", "", "comma-separated origins allowed to open chat sockets")
	flag.BoolVar(&cfg.SkipBuild, "skip-build", false, "skip building and pushing the image")
	flag.BoolVar(&cfg.SkipSecrets, "skip-secrets", false, "skip creating the admin token secret")
	flag.BoolVar(&cfg.SkipDeploy, "skip-deploy", false, "skip deployment")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "print every command")
	flag.BoolVar(&cfg.DryRun, "dry-run", false, "show commands without executing")
	flag.IntVar(&cfg.MinInstances, "min-instances", 0, "minimum number of instances")
	flag.IntVar(&cfg.MaxInstances, "max-instances", 10, "maximum number of instances")
	flag.StringVar(&cfg.Memory, "memory", "512Mi", "memory allocation")
	// Runs are polled inside the request, so the timeout must exceed poller.max_wait.
	flag.IntVar(&cfg.Timeout, "timeout", 300, "request timeout in seconds")
	flag.IntVar(&cfg.Concurrency, "concurrency", 80, "maximum concurrent requests per instance")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Deploy embedchat to Google Cloud Run.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExample:\n")
		fmt.Fprintf(os.Stderr, "  %s -project my-project -public-url https://chat.example.com\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -project my-project -skip-build -dry-run\n", os.Args[0])
	}

	flag.Parse()

	if cfg.ProjectID == "" {
		logError("Project ID is required. Set -project or GCP_PROJECT environment variable")
		os.Exit(1)
	}

	logInfo("Starting Cloud Run deployment...")
	if cfg.DryRun {
		logWarn("DRY-RUN MODE: No changes will be made")
	}

	steps := []struct {
		name string
		skip bool
		fn   func(*Config) error
	}{
		{"check prerequisites", false, checkPrerequisites},
		{"enable APIs", false, enableAPIs},
		{"create repository", cfg.SkipBuild, createRepository},
		{"create service account", false, createServiceAccount},
		{"create secrets", cfg.SkipSecrets || cfg.AdminToken == "", createSecrets},
		{"build image", cfg.SkipBuild, buildAndPush},
		{"deploy service", cfg.SkipDeploy, deployService},
	}
	for _, step := range steps {
		if step.skip {
			continue
		}
		if err := step.fn(cfg); err != nil {
			logError("Failed to %s: %v", step.name, err)
			os.Exit(1)
		}
	}

	logInfo("Deployment completed successfully!")
}

func checkPrerequisites(cfg *Config) error {
	logInfo("Checking prerequisites...")
	for _, name := range []string{"gcloud", "docker"} {
		if cfg.SkipBuild && name == "docker" {
			continue
		}
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%s not found. Please install it first", name)
		}
	}
	return nil
}

func enableAPIs(cfg *Config) error {
	logInfo("Enabling required GCP APIs...")
	return runCommand(cfg, "gcloud", "services", "enable",
		"run.googleapis.com",
		"artifactregistry.googleapis.com",
		"secretmanager.googleapis.com",
		"firestore.googleapis.com",
		"--project="+cfg.ProjectID)
}

func createRepository(cfg *Config) error {
	logInfo("Creating Artifact Registry repository...")
	if exists(cfg, "gcloud", "artifacts", "repositories", "describe", cfg.Repository,
		"--location="+cfg.Region, "--project="+cfg.ProjectID) {
		logWarn("Repository %s already exists", cfg.Repository)
		return nil
	}
	return runCommand(cfg, "gcloud", "artifacts", "repositories", "create", cfg.Repository,
		"--repository-format=docker",
		"--location="+cfg.Region,
		"--project="+cfg.ProjectID,
		"--description=embedchat container images")
}

func createServiceAccount(cfg *Config) error {
	logInfo("Creating service account...")
	if exists(cfg, "gcloud", "iam", "service-accounts", "describe", cfg.serviceAccount(), "--project="+cfg.ProjectID) {
		logWarn("Service account already exists")
	} else if err := runCommand(cfg, "gcloud", "iam", "service-accounts", "create", cfg.ServiceName,
		"--display-name=embedchat", "--project="+cfg.ProjectID); err != nil {
		return err
	}

	// Config documents live in Firestore.
	for _, role := range []string{
		"roles/datastore.user",
		"roles/secretmanager.secretAccessor",
		"roles/logging.logWriter",
		"roles/cloudtrace.agent",
	} {
		if err := runCommand(cfg, "gcloud", "projects", "add-iam-policy-binding", cfg.ProjectID,
			"--member=serviceAccount:"+cfg.serviceAccount(),
			"--role="+role,
			"--condition=None"); err != nil {
			logWarn("Failed to grant role %s: %v", role, err)
		}
	}
	return nil
}

func createSecrets(cfg *Config) error {
	logInfo("Setting up admin token secret...")
	if err := runWithInput(cfg, cfg.AdminToken, "gcloud", "secrets", "create", adminTokenSecret,
		"--replication-policy=automatic", "--data-file=-", "--project="+cfg.ProjectID); err == nil {
		return nil
	}
	// The secret exists; add a version.
	return runWithInput(cfg, cfg.AdminToken, "gcloud", "secrets", "versions", "add", adminTokenSecret,
		"--data-file=-", "--project="+cfg.ProjectID)
}

func buildAndPush(cfg *Config) error {
	logInfo("Building image %s...", cfg.imageTag())
	if err := runCommand(cfg, "gcloud", "auth", "configure-docker",
		cfg.Region+"-docker.pkg.dev", "--quiet"); err != nil {
		return err
	}
	if err := runCommand(cfg, "docker", "build",
		"--platform", "linux/amd64",
		"-t", cfg.imageTag(),
		"-f", "docker/embedchat.Dockerfile",
		"."); err != nil {
		return err
	}
	return runCommand(cfg, "docker", "push", cfg.imageTag())
}

func deployService(cfg *Config) error {
	logInfo("Deploying to Cloud Run...")
	if err := runCommand(cfg, "gcloud", deployArgs(cfg)...); err != nil {
		return err
	}
	if cfg.DryRun {
		return nil
	}

	out, err := exec.Command("gcloud", "run", "services", "describe", cfg.ServiceName,
		"--region="+cfg.Region,
		"--project="+cfg.ProjectID,
		"--format=value(status.url)").Output()
	if err != nil {
		return err
	}
	logInfo("Service URL: %s", strings.TrimSpace(string(out)))
	return nil
}

// deployArgs builds the gcloud run deploy invocation.
func deployArgs(cfg *Config) []string {
	env := []string{
		"EMBEDCHAT_SERVER_ADDR=:8080",
		"EMBEDCHAT_STORE_BACKEND=firestore",
		"EMBEDCHAT_LOG_FORMAT=json",
		"GCP_PROJECT=" + cfg.ProjectID,
	}
	if cfg.PublicURL != "" {
		env = append(env, "EMBEDCHAT_PUBLIC_URL="+cfg.PublicURL)
	}

	args := []string{
		"run", "deploy", cfg.ServiceName,
		"--image=" + cfg.imageTag(),
		"--platform=managed",
		"--region=" + cfg.Region,
		"--project=" + cfg.ProjectID,
		"--service-account=" + cfg.serviceAccount(),
		fmt.Sprintf("--min-instances=%d", cfg.MinInstances),
		fmt.Sprintf("--max-instances=%d", cfg.MaxInstances),
		"--memory=" + cfg.Memory,
		fmt.Sprintf("--timeout=%d", cfg.Timeout),
		fmt.Sprintf("--concurrency=%d", cfg.Concurrency),
		"--port=8080",
		// Chat sockets need an instance that outlives a single request.
		"--session-affinity",
		"--set-env-vars=^|^" + strings.Join(env, "|"),
		// The chat surface is public; the admin API checks its own token.
		"--allow-unauthenticated",
	}
	if cfg.AllowedOrigins != "" {
		args = append(args, "--update-env-vars=^|^EMBEDCHAT_ALLOWED_ORIGINS="+cfg.AllowedOrigins)
	}
	if cfg.AdminToken != "" || cfg.SkipSecrets {
		args = append(args, "--set-secrets=EMBEDCHAT_ADMIN_TOKEN="+adminTokenSecret+":latest")
	}
	return args
}

func exists(cfg *Config, name string, args ...string) bool {
	if cfg.DryRun {
		return false
	}
	return exec.Command(name, args...).Run() == nil
}

func runCommand(cfg *Config, name string, args ...string) error {
	return runWithInput(cfg, "", name, args...)
}

func runWithInput(cfg *Config, input, name string, args ...string) error {
	if cfg.DryRun {
		logInfo("[DRY-RUN] Would run: %s %s", name, strings.Join(args, " "))
		return nil
	}
	if cfg.Verbose {
		logInfo("Running: %s %s", name, strings.Join(args, " "))
	}

	cmd := exec.Command(name, args...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func getEnvDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func logInfo(format string, args ...any) {
	fmt.Printf("%s[INFO]%s %s\n", colorGreen, colorReset, fmt.Sprintf(format, args...))
}

func logWarn(format string, args ...any) {
	fmt.Printf("%s[WARN]%s %s\n", colorYellow, colorReset, fmt.Sprintf(format, args...))
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s[ERROR]%s %s\n", colorRed, colorReset, fmt.Sprintf(format, args...))
}
