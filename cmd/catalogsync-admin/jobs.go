package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/catalog-sync/config"
	"github.com/target/catalog-sync/internal/domain/model"
	"github.com/target/catalog-sync/internal/service"
)

type enqueueOptions struct {
	Type        model.JobType
	Store       string
	Markup      *float64
	Filter      string
	Priority    int
	Delay       time.Duration
	MaxAttempts int
}

func jobTypeNames() string {
	names := make([]string, 0, len(model.JobTypes()))
	for _, jt := range model.JobTypes() {
		names = append(names, string(jt))
	}
	return strings.Join(names, ", ")
}

func parseEnqueueFlags(args []string) (enqueueOptions, error) {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	opts := enqueueOptions{Type: model.JobTypeFullSync}
	fs.Func("type", "job type ("+jobTypeNames()+"; default full-sync)", func(v string) error {
		return opts.Type.UnmarshalText([]byte(v))
	})
	fs.StringVar(&opts.Store, "store", "", "target store domain (required)")
	fs.Func("markup", "markup percentage overriding the store's configured markup", func(v string) error {
		m, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid markup %q: %w", v, err)
		}
		opts.Markup = &m
		return nil
	})
	fs.StringVar(&opts.Filter, "filter", "", "JMESPath expression selecting main catalog products")
	fs.IntVar(&opts.Priority, "priority", 0, "job priority, 0-100; lower runs first")
	fs.DurationVar(&opts.Delay, "delay", 0, "postpone the job by this long")
	fs.IntVar(&opts.MaxAttempts, "max-attempts", 0, "attempt cap; 0 uses the queue default")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if strings.TrimSpace(opts.Store) == "" {
		return opts, errors.New("-store is required")
	}
	if opts.Delay < 0 {
		return opts, errors.New("-delay must not be negative")
	}
	return opts, nil
}

func (o enqueueOptions) request(now time.Time) *model.EnqueueRequest {
	req := &model.EnqueueRequest{
		Type:        o.Type,
		TargetStore: o.Store,
		Payload: model.SyncPayload{
			MarkupPercentage: o.Markup,
			Filter:           o.Filter,
		},
		Priority:    o.Priority,
		MaxAttempts: o.MaxAttempts,
	}
	if o.Delay > 0 {
		at := now.Add(o.Delay).UTC()
		req.ScheduledFor = &at
	}
	return req
}

func runEnqueue(cmdCtx *commandContext, args []string) error {
	opts, err := parseEnqueueFlags(args)
	if err != nil {
		return err
	}
	return withInfra(cmdCtx, func(ctx context.Context, infra *adminInfra) error {
		job, err := infra.Services.Jobs.Enqueue(ctx, opts.request(time.Now()))
		if err != nil {
			return err
		}
		cmdCtx.Logger.InfoContext(ctx, "job enqueued", "job_id", job.ID, "type", job.Type, "store", job.TargetStore)
		return writeln(os.Stdout, job.ID)
	})
}

type enqueueAllOptions struct {
	Type     model.JobType
	Priority int
}

func parseEnqueueAllFlags(args []string) (enqueueAllOptions, error) {
	fs := flag.NewFlagSet("enqueue-all", flag.ContinueOnError)
	opts := enqueueAllOptions{Type: model.JobTypeFullSync}
	fs.Func("type", "job type ("+jobTypeNames()+"; default full-sync)", func(v string) error {
		return opts.Type.UnmarshalText([]byte(v))
	})
	fs.IntVar(&opts.Priority, "priority", 50, "job priority, 0-100; lower runs first")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

// runEnqueueAll runs one unlocked scheduler round, so it always enqueues even when the scheduler
// service has already taken the current round.
func runEnqueueAll(cmdCtx *commandContext, args []string) error {
	opts, err := parseEnqueueAllFlags(args)
	if err != nil {
		return err
	}
	return withInfra(cmdCtx, func(ctx context.Context, infra *adminInfra) error {
		round, err := service.NewSchedulerService(service.SchedulerServiceOptions{
			Jobs:      infra.Services.Jobs,
			Stores:    infra.Services.Stores,
			MainStore: cmdCtx.Config.MainStore.Domain,
			Config: config.SchedulerConfig{
				Interval: time.Hour,
				JobType:  opts.Type,
				Priority: opts.Priority,
			},
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return err
		}
		enqueued, err := round.Tick(ctx, time.Now())
		if printErr := writef(os.Stdout, "enqueued %d %s jobs\n", enqueued, opts.Type); printErr != nil {
			err = errors.Join(err, printErr)
		}
		return err
	})
}

type listJobsOptions struct {
	Status string
	Type   string
	Store  string
	Limit  int
	Offset int
}

func parseListJobsFlags(args []string) (model.JobListOptions, error) {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	raw := listJobsOptions{}
	fs.StringVar(&raw.Status, "status", "", "filter by status (pending, running, completed, failed)")
	fs.StringVar(&raw.Type, "type", "", "filter by job type")
	fs.StringVar(&raw.Store, "store", "", "filter by target store domain")
	fs.IntVar(&raw.Limit, "limit", 50, "maximum number of jobs to show")
	fs.IntVar(&raw.Offset, "offset", 0, "number of jobs to skip")
	if err := fs.Parse(args); err != nil {
		return model.JobListOptions{}, err
	}

	opts := model.JobListOptions{
		TargetStore: model.NormalizeDomain(raw.Store),
		Limit:       raw.Limit,
		Offset:      raw.Offset,
	}
	if raw.Status != "" {
		status := model.JobStatus(strings.ToLower(strings.TrimSpace(raw.Status)))
		if !status.Valid() {
			return opts, fmt.Errorf("invalid status %q", raw.Status)
		}
		opts.Status = &status
	}
	if raw.Type != "" {
		var jt model.JobType
		if err := jt.UnmarshalText([]byte(raw.Type)); err != nil {
			return opts, err
		}
		opts.Type = &jt
	}
	if opts.Limit <= 0 || opts.Offset < 0 {
		return opts, errors.New("-limit must be positive and -offset must not be negative")
	}
	return opts, nil
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseListJobsFlags(args)
	if err != nil {
		return err
	}
	return withInfra(cmdCtx, func(ctx context.Context, infra *adminInfra) error {
		jobs, err := infra.Services.Jobs.List(ctx, opts)
		if err != nil {
			return err
		}
		return renderJobs(os.Stdout, jobs)
	})
}

func renderJobs(w io.Writer, jobs []*model.Job) error {
	if len(jobs) == 0 {
		return writeln(w, "(no jobs found)")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writeln(tw, "ID\tTYPE\tSTORE\tSTATUS\tATTEMPTS\tPRIORITY\tCREATED\tLAST ERROR"); err != nil {
		return err
	}
	for _, j := range jobs {
		lastErr := ""
		if j.LastError != nil {
			lastErr = truncate(*j.LastError, 60)
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\n",
			j.ID, j.Type, j.TargetStore, j.Status, j.Attempts, j.MaxAttempts, j.Priority,
			j.CreatedAt.UTC().Format(time.RFC3339), lastErr); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runShowJob(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("job", flag.ContinueOnError)
	id := fs.String("id", "", "job id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return errors.New("-id is required")
	}
	return withInfra(cmdCtx, func(ctx context.Context, infra *adminInfra) error {
		job, err := infra.Services.Jobs.GetByID(ctx, strings.TrimSpace(*id))
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		return writeln(os.Stdout, string(out))
	})
}

func runStats(cmdCtx *commandContext, _ []string) error {
	return withInfra(cmdCtx, func(ctx context.Context, infra *adminInfra) error {
		stats, err := infra.Services.Jobs.Stats(ctx)
		if err != nil {
			return err
		}
		return renderStats(os.Stdout, stats)
	})
}

func renderStats(w io.Writer, stats *model.JobStats) error {
	if stats == nil {
		stats = &model.JobStats{}
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		label string
		count int
	}{
		{"pending", stats.Pending},
		{"running", stats.Running},
		{"completed", stats.Completed},
		{"failed", stats.Failed},
	}
	total := 0
	for _, r := range rows {
		total += r.count
		if err := writef(tw, "%s\t%d\n", r.label, r.count); err != nil {
			return err
		}
	}
	if err := writef(tw, "total\t%d\n", total); err != nil {
		return err
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
