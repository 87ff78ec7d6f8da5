package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"bough/engine"
	"bough/tree"
)

var (
	attrsFlag  string
	rightFlag  string
	parentFlag string
	jsonFlag   bool
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Build and edit content trees",
}

var treeRootCmd = &cobra.Command{
	Use:   "root <kind>",
	Short: "Create a new root tree",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		attrs, err := parseAttrs(attrsFlag)
		if err != nil {
			return err
		}
		n, err := a.engine.AddRoot(ctx, args[0], attrs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n.ID)
		return nil
	}),
}

var treeAddCmd = &cobra.Command{
	Use:   "add <parent-id> <kind>",
	Short: "Add content as the last child of a node",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		attrs, err := parseAttrs(attrsFlag)
		if err != nil {
			return err
		}
		parent, err := a.engine.Get(ctx, args[0])
		if err != nil {
			return err
		}
		n, err := a.engine.AddChild(ctx, parent, args[1], attrs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n.ID)
		return nil
	}),
}

var treeSiblingCmd = &cobra.Command{
	Use:   "sibling <anchor-id> <kind>",
	Short: "Add content immediately left of a node",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		attrs, err := parseAttrs(attrsFlag)
		if err != nil {
			return err
		}
		anchor, err := a.engine.Get(ctx, args[0])
		if err != nil {
			return err
		}
		n, err := a.engine.AddSibling(ctx, anchor, args[1], attrs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n.ID)
		return nil
	}),
}

var treeSaveCmd = &cobra.Command{
	Use:   "save <id>",
	Short: "Replace the attributes of a node's content",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		attrs, err := parseAttrs(attrsFlag)
		if err != nil {
			return err
		}
		n, err := a.engine.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return a.engine.Save(ctx, n, attrs)
	}),
}

var treeMoveCmd = &cobra.Command{
	Use:   "move <id>",
	Short: "Move a subtree under --parent or left of --right",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		n, err := a.engine.Get(ctx, args[0])
		if err != nil {
			return err
		}
		var right, parent *tree.Node
		if rightFlag != "" {
			if right, err = a.engine.Get(ctx, rightFlag); err != nil {
				return err
			}
		}
		if parentFlag != "" {
			if parent, err = a.engine.Get(ctx, parentFlag); err != nil {
				return err
			}
		}
		return a.engine.Reposition(ctx, n, right, parent)
	}),
}

var treeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a node and everything below it",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		root, err := a.engine.Load(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(cmd, engine.View(root))
		}
		printTree(cmd.OutOrStdout(), root)
		return nil
	}),
}

var treeRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a node and its subtree",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		n, err := a.engine.Get(ctx, args[0])
		if err != nil {
			return err
		}
		err = a.engine.Delete(ctx, n)
		if errors.Is(err, tree.ErrProtected) {
			return fmt.Errorf("%w (is it a version snapshot or working copy?)", err)
		}
		return err
	}),
}

var treeAllowedCmd = &cobra.Command{
	Use:   "allowed <parent-id>",
	Short: "List the kinds that may be added under a node",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		parent, err := a.engine.Get(ctx, args[0])
		if err != nil {
			return err
		}
		allowed, err := a.engine.AllowedKinds(ctx, parent)
		if err != nil {
			return err
		}
		for _, k := range allowed {
			fmt.Fprintln(cmd.OutOrStdout(), k.Name)
		}
		return nil
	}),
}

func init() {
	for _, c := range []*cobra.Command{treeRootCmd, treeAddCmd, treeSiblingCmd, treeSaveCmd} {
		c.Flags().StringVar(&attrsFlag, "attrs", "", "Content attributes as a JSON object")
	}
	treeMoveCmd.Flags().StringVar(&rightFlag, "right", "", "Place the node immediately left of this node")
	treeMoveCmd.Flags().StringVar(&parentFlag, "parent", "", "Place the node as the last child of this node")
	treeMoveCmd.MarkFlagsOneRequired("right", "parent")
	treeMoveCmd.MarkFlagsMutuallyExclusive("right", "parent")
	treeShowCmd.Flags().BoolVar(&jsonFlag, "json", false, "Output as JSON")

	treeCmd.AddCommand(treeRootCmd, treeAddCmd, treeSiblingCmd, treeSaveCmd, treeMoveCmd,
		treeShowCmd, treeRmCmd, treeAllowedCmd)
}

// withApp opens the database around a command body.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return fn(ctx, a, cmd, args)
	}
}

func printTree(w io.Writer, root *tree.Node) {
	for _, n := range root.DepthFirst() {
		indent := strings.Repeat("  ", n.Depth-root.Depth)
		label := n.Kind().DisplayName()
		if title, ok := n.Attrs()["title"].(string); ok {
			label += fmt.Sprintf(" %q", title)
		} else if body, ok := n.Attrs()["body"].(string); ok {
			label += fmt.Sprintf(" %q", body)
		}
		flags := ""
		if n.Frozen {
			flags = " [frozen]"
		}
		fmt.Fprintf(w, "%s%s %s%s\n", indent, n.ID, label, flags)
	}
}
