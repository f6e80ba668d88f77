// Package viz draws a session document's change history.
package viz

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// ValueAt returns the JSON text stored under key as of the given change, or "-" if the key was
// not set yet.
func ValueAt(doc *automerge.Doc, hash automerge.ChangeHash, key string) (string, error) {
	docAt, err := doc.Fork(hash)
	if err != nil {
		return "", fmt.Errorf("failed to checkout %s: %w", hash, err)
	}
	value, err := docAt.Path(key).Get()
	if err != nil {
		return "-", nil
	}
	if s, ok := value.Interface().(string); ok {
		return s, nil
	}
	return "-", nil
}

func label(doc *automerge.Doc, change *automerge.Change, key string) (string, error) {
	value, err := ValueAt(doc, change.Hash(), key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s@%d %s", change.Hash().String()[:8], change.ActorID(), change.ActorSeq(), value), nil
}

// RenderKeyHistory writes an SVG graph with one node per change, labelled with key's value at
// that change, and edges from each change to its dependents.
func RenderKeyHistory(doc *automerge.Doc, key string, outputPath string) error {
	g := graphviz.New()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}

	nodeMap := make(map[string]*cgraph.Node)
	var edgeCounter uint64
	for _, change := range changes {
		text, err := label(doc, change, key)
		if err != nil {
			return err
		}
		n, err := graph.CreateNode(change.Hash().String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(text)
		nodeMap[n.Name()] = n

		for _, hash := range change.Dependencies() {
			_, err := graph.CreateEdge(strconv.Itoa(int(atomic.AddUint64(&edgeCounter, 1))), nodeMap[hash.String()], n)
			if err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

// WriteDot writes the same graph as RenderKeyHistory in DOT form, without needing graphviz.
func WriteDot(w io.Writer, doc *automerge.Doc, key string) error {
	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	if _, err := fmt.Fprintln(w, `digraph "log" {`); err != nil {
		return err
	}
	for _, change := range changes {
		text, err := label(doc, change, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "    %q [label=%q]\n", change.Hash().String(), text)
		for _, hash := range change.Dependencies() {
			fmt.Fprintf(w, "    %q -> %q\n", hash.String(), change.Hash().String())
		}
	}
	_, err = fmt.Fprintln(w, "}")
	return err
}
