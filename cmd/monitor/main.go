package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"velu/internal/domain"
	"velu/internal/statelog"
	sqlitestore "velu/internal/store/sqlite"
)

func main() {
	logPath := flag.String("log", envOr("ORCH_LOG", statelog.DefaultPath), "orchestrator state log")
	dbPath := flag.String("db", envOr("TASK_DB", "data/jobs.db"), "sqlite job database")
	addr := flag.String("addr", "", "orchestrator base URL for submitting tasks (optional)")
	limit := flag.Int("limit", 200, "number of events and jobs to show")
	interval := flag.Duration("interval", 5*time.Second, "fallback refresh interval")
	flag.Parse()

	store, err := sqlitestore.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open job store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := store.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migrate job store: %v\n", err)
		os.Exit(1)
	}

	var c *client
	if *addr != "" {
		c = &client{
			baseURL: strings.TrimRight(*addr, "/"),
			http:    &http.Client{Timeout: 15 * time.Minute},
		}
	}

	app := tview.NewApplication()
	eventsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	eventsTable.SetTitle("State log (F5 refresh, F10 quit)").SetBorder(true)

	jobsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	jobsTable.SetTitle("Jobs (Enter inspect)").SetBorder(true)

	detailView := tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(false)
	detailView.SetTitle("Job detail").SetBorder(true)

	promptInput := tview.NewInputField().
		SetLabel("task {payload}: ")
	promptInput.SetBorder(true).SetTitle("Enter = run task")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"log=%s db=%s | shortcuts: F10 quit, F5 refresh, Ctrl+L prompt, Ctrl+T jobs",
		*logPath, *dbPath,
	))

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(jobsTable, 0, 1, true).
		AddItem(detailView, 0, 2, false)
	mainLayout := tview.NewFlex().
		AddItem(eventsTable, 0, 3, false).
		AddItem(right, 0, 2, true)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, true)
	if c != nil {
		root.AddItem(promptInput, 3, 0, false)
	}
	root.AddItem(statusView, 3, 0, false)

	var (
		mu       sync.Mutex
		lastJobs []domain.Job
		selected int64
	)

	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refresh := func() {
		snap, err := loadSnapshot(ctx, *logPath, store, *limit)
		app.QueueUpdateDraw(func() {
			if err != nil {
				statusView.SetText("refresh failed: " + err.Error())
				return
			}
			renderEventsTable(eventsTable, snap.Events)
			mu.Lock()
			lastJobs = snap.Jobs
			sel := selected
			mu.Unlock()
			renderJobsTable(jobsTable, snap.Jobs, sel)
			for _, j := range snap.Jobs {
				if j.ID == sel {
					detailView.SetText(renderJobDetail(j))
				}
			}
		})
	}

	jobsTable.SetSelectedFunc(func(row, _ int) {
		mu.Lock()
		defer mu.Unlock()
		if row <= 0 || row > len(lastJobs) {
			return
		}
		job := lastJobs[row-1]
		selected = job.ID
		detailView.SetText(renderJobDetail(job))
		detailView.ScrollToBeginning()
	})

	promptInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || c == nil {
			return
		}
		name, payload, err := parsePrompt(promptInput.GetText())
		if err != nil {
			statusView.SetText(err.Error())
			return
		}
		promptInput.SetText("")
		statusView.SetText("running " + name + "...")
		go func() {
			res, err := c.runTask(ctx, name, payload)
			if err != nil {
				setStatusAsync("task request failed: " + err.Error())
				return
			}
			setStatusAsync(summarizeResult(name, res))
		}()
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go refresh()
			return nil
		case tcell.KeyCtrlL:
			if c != nil {
				app.SetFocus(promptInput)
			}
			return nil
		case tcell.KeyCtrlT, tcell.KeyEscape:
			app.SetFocus(jobsTable)
			return nil
		}
		return event
	})

	changes, err := watchLog(ctx, *logPath)
	if err != nil {
		statusView.SetText("live updates disabled: " + err.Error())
	}
	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		refresh()
		for {
			select {
			case <-ctx.Done():
				app.Stop()
				return
			case <-ticker.C:
			case <-changes:
			}
			refresh()
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(jobsTable).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
