// Copyright 2026 skein Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// skeinc compiles declarative dataflow graphs into fused native kernels.
//
//	skeinc compile project.json -o out/     emit C sources
//	skeinc run project.json --frames 120    interpret in-process
//	skeinc inspect project.json             print the compiled plan
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/skeinflow/skein/cgen"
	"github.com/skeinflow/skein/compile"
	"github.com/skeinflow/skein/run"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "skeinc: %s\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "skeinc",
		Short:         "compile dataflow graphs into fused native kernels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)
	root.PersistentFlags().AddGoFlagSet(fs)

	root.AddCommand(newCompileCommand(), newRunCommand(), newInspectCommand())
	return root
}

func newCompileCommand() *cobra.Command {
	var outDir string
	var parallel bool
	cmd := &cobra.Command{
		Use:   "compile <manifest>",
		Short: "emit C sources for a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mod, err := compile.File(args[0])
			if err != nil {
				return err
			}
			files, err := cgen.Generate(mod, cgen.Options{Parallel: parallel})
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			for _, f := range files {
				path := filepath.Join(outDir, f.Name)
				if err := os.WriteFile(path, f.Data, 0o644); err != nil {
					return err
				}
				klog.V(1).InfoS("wrote", "file", path, "bytes", len(f.Data))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d files to %s\n", len(files), outDir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "out", "output directory")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "annotate loop nests with OpenMP pragmas")
	return cmd
}

func newRunCommand() *cobra.Command {
	var frames int
	var parallel bool
	var outPNG string
	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "run a graph with the in-process runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mod, err := compile.File(args[0])
			if err != nil {
				return err
			}
			rt, err := run.New(mod, run.Options{Parallel: parallel})
			if err != nil {
				return err
			}
			if err := run.Headless(context.Background(), rt, frames); err != nil {
				return err
			}
			if display := rt.Display(); display != nil && outPNG != "" {
				w := mod.Links.Display.Width
				h := mod.Links.Display.Height
				if err := run.SavePNG(outPNG, display, w, h); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ran %d frames, wrote %s\n", frames, outPNG)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ran %d frames\n", frames)
			return nil
		},
	}
	cmd.Flags().IntVar(&frames, "frames", 60, "number of frames to run")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "execute loop nests across goroutines")
	cmd.Flags().StringVarP(&outPNG, "out", "o", "frame.png", "write the final display frame here")
	return cmd
}

func newInspectCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <manifest>",
		Short: "print the compiled execution plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mod, err := compile.File(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(mod)
			}
			fmt.Fprintf(out, "module %s\n", mod.Name)
			if mod.Window != nil {
				fmt.Fprintf(out, "window %dx%d %q\n", mod.Window.Width, mod.Window.Height, mod.Window.Title)
			}
			for _, p := range mod.Params {
				fmt.Fprintf(out, "param %s = %g\n", p.Name, p.Value)
			}
			for _, b := range mod.Buffers {
				fmt.Fprintf(out, "buffer %-30s %s[%s = %d] %s\n", b.Name, b.DType, b.Size.Expr, b.Size.N, b.Storage)
			}
			for _, s := range mod.Steps {
				fmt.Fprintf(out, "program %s: %d copy-in, %d nests, %d copy-out\n",
					s.Program, len(s.CopyIn), len(s.Nests), len(s.CopyOut))
				for _, n := range s.Nests {
					fmt.Fprintf(out, "  nest %-7s nodes=%v\n", n.Kind, n.Nodes)
				}
			}
			for _, b := range mod.Links.Bindings {
				src := string(b.Kind)
				if b.SrcProgram != "" {
					src = fmt.Sprintf("%s %s.%s", b.Kind, b.SrcProgram, b.SrcNode)
				}
				fmt.Fprintf(out, "bind %s.%s <- %s\n", b.Program, b.Node, src)
			}
			if d := mod.Links.Display; d != nil {
				fmt.Fprintf(out, "display %s.%s %dx%d\n", d.Program, d.Node, d.Width, d.Height)
			}
			for _, sw := range mod.FrameEnd {
				fmt.Fprintf(out, "swap %s\n", sw.Buffer)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "dump the full compiled program as JSON")
	return cmd
}
