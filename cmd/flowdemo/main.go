// Command flowdemo runs a small approval workflow end to end: an agent
// drafts something, a human approves or rejects it, and the run either
// passes the draft to a second agent that publishes it or ends at an
// output node that reports the rejection. It demonstrates the
// suspend/resume contract a host application drives a Runner through for
// any HumanNode/DynamicHumanNode in a graph.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	checkpointinmem "goa.design/flowengine/checkpoint/inmem"
	"goa.design/flowengine/config"
	"goa.design/flowengine/dlq"
	"goa.design/flowengine/edge"
	"goa.design/flowengine/eventbus/inmem"
	"goa.design/flowengine/graph"
	"goa.design/flowengine/idempotency"
	idempotencyinmem "goa.design/flowengine/idempotency/inmem"
	"goa.design/flowengine/message"
	"goa.design/flowengine/node"
	"goa.design/flowengine/runner"
	"goa.design/flowengine/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; defaults are used when omitted)")
	decision := flag.String("decision", "approve", `human decision to resume with: "approve" or "reject"`)
	flag.Parse()

	cfg := config.Config{SaveOnError: true}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("flowdemo: load config: %v", err)
		}
		cfg = loaded
	}

	if err := run(cfg, *decision); err != nil {
		log.Fatalf("flowdemo: %v", err)
	}
}

func run(cfg config.Config, decision string) error {
	ctx := context.Background()

	g, err := buildGraph()
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}

	bundle := telemetry.NoopBundle()
	checkpoints := checkpointinmem.New()
	idemMgr := idempotency.NewManager(idempotencyinmem.New(), nil, cfg.IdempotencyOptions()...)

	queue := dlq.New(dlq.Options{
		MaxSize:           cfg.DLQ.MaxSize,
		MaxSizePerChannel: cfg.DLQ.MaxSizePerChannel,
		OnEvict: func(e dlq.Entry) {
			fmt.Fprintf(os.Stderr, "flowdemo: dead-lettered envelope %s on channel %s: %s\n", e.Envelope.ID, e.Channel, e.Reason)
		},
	})
	bus := inmem.New(inmem.Options{DLQ: queue})
	defer func() { _ = bus.Close(ctx) }()

	r := runner.New(
		checkpoints,
		runner.WithIdempotency(idemMgr),
		runner.WithTelemetry(bundle),
		runner.WithCheckpointEvery(cfg.SaveEveryNNodes),
		runner.WithCheckpointOnError(cfg.SaveOnError),
	)

	report, err := r.Run(ctx, g, message.New("draft the release notes"))
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if report.Status != runner.StatusWaiting {
		return fmt.Errorf("expected the run to suspend for approval, got status %q", report.Status)
	}
	fmt.Printf("paused awaiting human input: checkpoint=%s\n", report.CheckpointID)

	resumed, err := r.Resume(ctx, g, report.CheckpointID, map[string]any{
		"nodeId":         "review",
		"selectedOption": decision,
	})
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	fmt.Printf("status=%s result=%v\n", resumed.Status, resumed.Result)
	return nil
}

func buildGraph() (*graph.Graph, error) {
	draft := &node.AgentNode{
		NodeID: "draft",
		Agent: node.AgentFunc(func(_ context.Context, in message.Message) (message.Message, error) {
			return in.WithContent("Draft: "+in.Content, message.TypeText), nil
		}),
	}
	review := &node.HumanNode{
		NodeID:  "review",
		Prompt:  "Please review the draft",
		Options: []string{"approve", "reject"},
	}
	publish := &node.AgentNode{
		NodeID: "publish",
		Agent: node.AgentFunc(func(_ context.Context, in message.Message) (message.Message, error) {
			return in.WithContent("Published: "+in.Content, message.TypeText), nil
		}),
	}
	rejected := &node.OutputNode{
		NodeID:   "rejected-output",
		Selector: func(message.Message) any { return "Draft was rejected by human reviewer" },
	}
	out := &node.OutputNode{NodeID: "out"}

	approved := func(m message.Message) bool {
		resp, _ := m.Data[node.DataHumanResponse].(map[string]any)
		sel, _ := resp["selectedOption"].(string)
		return sel == "approve"
	}
	rejectedCond := func(m message.Message) bool {
		resp, _ := m.Data[node.DataHumanResponse].(map[string]any)
		sel, _ := resp["selectedOption"].(string)
		return sel == "reject"
	}

	b := graph.NewBuilder("approval-demo")
	if err := b.AddNode(draft); err != nil {
		return nil, err
	}
	if err := b.AddNode(review); err != nil {
		return nil, err
	}
	if err := b.AddNode(publish); err != nil {
		return nil, err
	}
	if err := b.AddNode(rejected); err != nil {
		return nil, err
	}
	if err := b.AddNode(out); err != nil {
		return nil, err
	}

	b.AddEdge(edge.Edge{From: "draft", To: "review"})
	b.AddEdge(edge.Edge{From: "review", To: "publish", Condition: approved})
	b.AddEdge(edge.Edge{From: "review", To: "rejected-output", Condition: rejectedCond})
	b.AddEdge(edge.Edge{From: "publish", To: "out"})
	b.SetEntryPoint("draft")

	return b.Build()
}
