package main

import (
	"strings"
	"testing"
)

func TestDeployArgs(t *testing.T) {
	cfg := &Config{
		ProjectID:    "my-project",
		Region:       "europe-west1",
		ServiceName:  "embedchat",
		ImageName:    "embedchat",
		Repository:   "embedchat",
		PublicURL:    "https://chat.example.com",
		AdminToken:   "tok-4f2a9",
		MaxInstances: 3,
		Memory:       "512Mi",
		Timeout:      300,
		Concurrency:  80,
	}

	args := strings.Join(deployArgs(cfg), " ")

	for _, want := range []string{
		"run deploy embedchat",
		"--image=europe-west1-docker.pkg.dev/my-project/embedchat/embedchat:latest",
		"--service-account=embedchat@my-project.iam.gserviceaccount.com",
		"--max-instances=3",
		"EMBEDCHAT_STORE_BACKEND=firestore",
		"GCP_PROJECT=my-project",
		"EMBEDCHAT_PUBLIC_URL=https://chat.example.com",
		"--set-secrets=EMBEDCHAT_ADMIN_TOKEN=embedchat-admin-token:latest",
		"--session-affinity",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("deploy args missing %q:\n%s", want, args)
		}
	}
	if strings.Contains(args, "tok-4f2a9") {
		t.Errorf("admin token leaked into deploy args: %s", args)
	}
}

func TestDeployArgs_NoTokenNoSecret(t *testing.T) {
	cfg := &Config{ProjectID: "p", Region: "r", ServiceName: "s", ImageName: "i", Repository: "repo", Memory: "256Mi"}

	args := strings.Join(deployArgs(cfg), " ")
	if strings.Contains(args, "--set-secrets") {
		t.Errorf("unexpected secret binding without a token: %s", args)
	}
	if strings.Contains(args, "EMBEDCHAT_PUBLIC_URL") {
		t.Errorf("unexpected public url: %s", args)
	}
}

func TestDryRunRunsNothing(t *testing.T) {
	cfg := &Config{DryRun: true}
	if err := runCommand(cfg, "definitely-not-a-real-binary"); err != nil {
		t.Errorf("dry run should not execute commands: %v", err)
	}
	if exists(cfg, "definitely-not-a-real-binary") {
		t.Error("dry run should report resources as missing")
	}
}
