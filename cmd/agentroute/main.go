// Command agentroute drives the engine from the command line: validate a
// manifest, evaluate the decision tree against a synthetic execution context,
// or run a full coordination round against a real worker backend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentroute"
	"github.com/hupe1980/agentroute/aggregate"
	"github.com/hupe1980/agentroute/config"
	"github.com/hupe1980/agentroute/conflict"
	"github.com/hupe1980/agentroute/core"
	anthropicworker "github.com/hupe1980/agentroute/worker/anthropic"
	openaiworker "github.com/hupe1980/agentroute/worker/openai"
)

var version = "dev"

var manifestFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentroute",
		Short: "Routing and multi-agent coordination engine",
		Long: `agentroute routes tasks through a declarative decision tree and
coordinates multi-agent rounds. The validate and route commands never
dispatch workers; coordinate runs a real round against an LLM backend.`,
	}

	rootCmd.PersistentFlags().StringVarP(&manifestFile, "manifest", "f", "agentroute.yaml", "path to the routing manifest")

	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(coordinateCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a routing manifest",
		Long:  "Parses the manifest and checks the decision tree for unknown references, dead ends and cycles without executing anything.",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.Load(manifestFile)
			if err != nil {
				return err
			}
			if _, err := m.BuildTree(); err != nil {
				return err
			}
			fmt.Printf("Manifest is valid: %d agent(s), %d path(s), %d node(s).\n", len(m.Agents), len(m.Paths), len(m.Nodes))
			return nil
		},
	}
}

func routeCmd() *cobra.Command {
	var (
		tokens       int
		confidence   float64
		costBudget   float64
		timeBudget   time.Duration
		reliability  float64
		contextType  string
		capabilities []string
	)

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Evaluate the decision tree against a synthetic context",
		Long: `Builds the tree from the manifest, evaluates it against the execution
context described by the flags and prints the decision as JSON, including
the full evaluation trace.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.Load(manifestFile)
			if err != nil {
				return err
			}
			tree, err := m.BuildTree()
			if err != nil {
				return err
			}

			execCtx := core.ExecutionContext{
				TokenCount:   tokens,
				Confidence:   confidence,
				CostBudget:   costBudget,
				TimeBudget:   timeBudget,
				Reliability:  reliability,
				ContextType:  contextType,
				Capabilities: capabilities,
			}
			decision := tree.Evaluate(execCtx)

			out, err := json.MarshalIndent(decision, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if decision.NoRoute {
				return fmt.Errorf("no route for the given context")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tokens, "tokens", 0, "estimated token count")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "confidence score")
	cmd.Flags().Float64Var(&costBudget, "cost-budget", 0, "cost budget in USD")
	cmd.Flags().DurationVar(&timeBudget, "time-budget", 0, "time budget (e.g. 30s)")
	cmd.Flags().Float64Var(&reliability, "reliability", 0, "reliability requirement")
	cmd.Flags().StringVar(&contextType, "context-type", "", "context type tag")
	cmd.Flags().StringSliceVar(&capabilities, "capabilities", nil, "available capabilities")

	return cmd
}

func coordinateCmd() *cobra.Command {
	var (
		backend      string
		tokens       int
		contextType  string
		capabilities []string
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "coordinate [input]",
		Short: "Run one coordination round against a real worker backend",
		Long: `Builds the engine from the manifest, registers its agents against the
chosen worker backend (anthropic or openai, using the API key from the
environment) and runs a single coordination round for the given input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.Load(manifestFile)
			if err != nil {
				return err
			}
			tree, err := m.BuildTree()
			if err != nil {
				return err
			}

			var worker core.Worker
			switch backend {
			case "anthropic":
				worker = anthropicworker.New()
			case "openai":
				worker = openaiworker.New()
			default:
				return fmt.Errorf("unknown backend %q (want anthropic or openai)", backend)
			}

			ar, err := agentroute.New(tree, worker, func(o *agentroute.Options) {
				if m.Engine.MaxConcurrency > 0 {
					o.MaxConcurrency = m.Engine.MaxConcurrency
				}
				if m.Engine.Quorum > 0 {
					o.Quorum = m.Engine.Quorum
				}
				if m.Engine.AggregationStrategy != "" {
					o.AggregationStrategy = aggregate.ParseStrategy(m.Engine.AggregationStrategy)
				}
				if m.Engine.ConflictStrategy != "" {
					o.ConflictResolver = conflict.NewResolver(conflict.ParseStrategy(m.Engine.ConflictStrategy))
				}
			})
			if err != nil {
				return err
			}
			for _, a := range m.AgentDefinitions() {
				if err := ar.RegisterAgent(a); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			task := core.Task{ID: core.NewID(), Input: args[0]}
			execCtx := core.ExecutionContext{
				TokenCount:   tokens,
				ContextType:  contextType,
				Capabilities: capabilities,
			}

			res, sess, err := ar.Coordinate(ctx, task, execCtx)
			if err != nil {
				return err
			}

			fmt.Printf("session=%s status=%s strategy=%s agreement=%.2f\n",
				sess.ID, sess.Status, res.Strategy, res.AgreementScore)
			out, err := json.MarshalIndent(res.Primary.Any(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "anthropic", "worker backend (anthropic or openai)")
	cmd.Flags().IntVar(&tokens, "tokens", 0, "estimated token count")
	cmd.Flags().StringVar(&contextType, "context-type", "", "context type tag")
	cmd.Flags().StringSliceVar(&capabilities, "capabilities", nil, "available capabilities")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall round timeout")

	return cmd
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agents declared in the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.Load(manifestFile)
			if err != nil {
				return err
			}
			for _, a := range m.AgentDefinitions() {
				caps := strings.Join(a.Capabilities, ", ")
				fmt.Printf("%s\tpriority=%d\tretries=%d\ttimeout=%s\t[%s]\n", a.ID, a.Priority, a.MaxRetries, a.Timeout, caps)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("agentroute", version)
		},
	}
}
