// Package obslog is the daemon's logging surface: every log line goes to a
// local stdlib logger, and when a GCP project is configured the same line
// fans out to Cloud Logging so operators can watch a fleet of daemons from
// one place instead of tailing files on each host.
package obslog

import (
	"context"
	"fmt"
	"log"
	"os"

	"cloud.google.com/go/logging"
	"google.golang.org/api/option"

	"github.com/othala/orchd/internal/cloud/gcp"
)

// Logger writes structured lines locally and, optionally, to Cloud Logging.
type Logger struct {
	local  *log.Logger
	cloud  *logging.Logger
	client *logging.Client
	repoID string
}

// New builds a Logger for repoID. When project is non-empty it opens a
// Cloud Logging client scoped to that project; logEntries written under
// logID group in the Cloud Logging UI. The caller must call Close when
// done so buffered Cloud Logging entries are flushed. New never fetches
// credentials from Secret Manager.
func New(ctx context.Context, project, logID, repoID string) (*Logger, error) {
	return newLogger(ctx, project, logID, repoID, "")
}

// NewWithCredentialsSecret is New plus a Secret Manager fallback: when
// credentialsSecret is non-empty and GOOGLE_APPLICATION_CREDENTIALS is not
// already set in the environment, the service-account key is fetched from
// Secret Manager and used directly rather than relying on ambient
// application-default credentials.
func NewWithCredentialsSecret(ctx context.Context, project, logID, repoID, credentialsSecret string) (*Logger, error) {
	return newLogger(ctx, project, logID, repoID, credentialsSecret)
}

func newLogger(ctx context.Context, project, logID, repoID, credentialsSecret string) (*Logger, error) {
	l := &Logger{
		local:  log.New(os.Stderr, "", log.LstdFlags),
		repoID: repoID,
	}
	if project == "" {
		return l, nil
	}

	var opts []option.ClientOption
	if credentialsSecret != "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		key, err := fetchCredentialsKey(ctx, credentialsSecret)
		if err != nil {
			return nil, fmt.Errorf("obslog: fetching logging credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON([]byte(key)))
	}

	client, err := logging.NewClient(ctx, fmt.Sprintf("projects/%s", project), opts...)
	if err != nil {
		return nil, fmt.Errorf("obslog: opening cloud logging client: %w", err)
	}
	l.client = client
	l.cloud = client.Logger(logID)
	return l, nil
}

func fetchCredentialsKey(ctx context.Context, secretPath string) (string, error) {
	sm, err := gcp.NewSecretManagerClient(ctx)
	if err != nil {
		return "", err
	}
	defer sm.Close()
	return sm.FetchSecret(ctx, secretPath)
}

// Close flushes and releases the Cloud Logging client, if one was opened.
func (l *Logger) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

func (l *Logger) log(severity logging.Severity, taskID, message string) {
	l.local.Printf("[%s] repo=%s task=%s %s", severity, l.repoID, taskID, message)
	if l.cloud == nil {
		return
	}
	l.cloud.Log(logging.Entry{
		Severity: severity,
		Payload:  message,
		Labels: map[string]string{
			"repo_id": l.repoID,
			"task_id": taskID,
		},
	})
}

// Info logs a routine tick/lifecycle observation.
func (l *Logger) Info(taskID, message string) { l.log(logging.Info, taskID, message) }

// Warn logs a recoverable anomaly: a retry, a stale context, a slow poll.
func (l *Logger) Warn(taskID, message string) { l.log(logging.Warning, taskID, message) }

// Error logs a failure that required human attention or aborted a task.
func (l *Logger) Error(taskID, message string) { l.log(logging.Error, taskID, message) }

// AsDaemonLogger adapts Info into the daemon.Logger function type so this
// Logger can be passed directly to daemon.ExecuteActions.
func (l *Logger) AsDaemonLogger() func(taskID, message string) {
	return l.Info
}
