package tree

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Quantum-Spooky/kgsweb-sub000/internal/logging"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/metrics"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/retry"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/store"
)

// ErrBuildTimeout indicates a traversal exceeded its time or page budget.
var ErrBuildTimeout = errors.New("tree build exceeded time or page budget")

// Builder traverses a remote folder hierarchy breadth-first and produces
// the unpruned forest of nodes under a root folder.
//
// Children within a folder are emitted in listing order; sorting is a
// presentation concern, not the builder's.
type Builder struct {
	store    store.FileStore
	retry    retry.Config
	maxPages int
	timeout  time.Duration
}

// NewBuilder creates a tree builder with traversal bounds.
func NewBuilder(fs store.FileStore, maxPages int, timeout time.Duration) *Builder {
	return &Builder{
		store:    fs,
		retry:    retry.DefaultConfig(),
		maxPages: maxPages,
		timeout:  timeout,
	}
}

// SetRetryConfig overrides the per-listing retry policy.
func (b *Builder) SetRetryConfig(cfg retry.Config) {
	b.retry = cfg
}

// BuildTree traverses the hierarchy under rootID and returns the root's
// children, unpruned. A store failure on the very first listing returns
// store.ErrUnavailable; a listing failure deeper in the traversal degrades
// that folder to childless and continues. Exceeding the page or time
// budget returns ErrBuildTimeout. If the caller's context is canceled
// the build fails outright rather than returning a truncated forest.
func (b *Builder) BuildTree(ctx context.Context, rootID string) ([]*Node, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	// BFS over folder IDs. Children are collected into a flat map keyed
	// by parent ID and assembled into the nested tree at the end, so no
	// node is mutated after it has been linked in.
	queue := []string{rootID}
	childrenOf := make(map[string][]*Node)
	pagesUsed := 0
	firstCall := true

	for len(queue) > 0 {
		folderID := queue[0]
		queue = queue[1:]

		items, pages, err := b.listAll(ctx, folderID, b.maxPages-pagesUsed)
		pagesUsed += pages
		if err != nil {
			switch {
			case errors.Is(err, ErrBuildTimeout),
				errors.Is(err, context.DeadlineExceeded),
				errors.Is(ctx.Err(), context.DeadlineExceeded):
				metrics.RecordTreeBuild(time.Since(start), false)
				return nil, fmt.Errorf("building %q: %w", rootID, ErrBuildTimeout)
			case ctx.Err() != nil:
				// Caller went away. A truncated forest must never look
				// like a complete build, so the whole traversal fails.
				metrics.RecordTreeBuild(time.Since(start), false)
				return nil, fmt.Errorf("building %q: %w", rootID, ctx.Err())
			case firstCall:
				metrics.RecordTreeBuild(time.Since(start), false)
				return nil, fmt.Errorf("building %q: %w: %v", rootID, store.ErrUnavailable, err)
			default:
				// A single bad branch must not blank the whole tree.
				logging.Warn("partial listing failure, treating folder as empty",
					zap.String("folder", folderID), zap.Error(err))
				firstCall = false
				continue
			}
		}
		firstCall = false

		for _, item := range items {
			node := &Node{
				ID:   item.ID,
				Name: item.Name,
			}
			if item.Type == store.TypeFolder {
				node.IsFolder = true
				queue = append(queue, item.ID)
			} else {
				node.MimeType = item.MimeType
				node.SizeBytes = item.SizeBytes
				node.ModifiedTime = item.ModifiedTime
				node.IconTag = IconTag(item.Name, item.MimeType)
			}
			childrenOf[folderID] = append(childrenOf[folderID], node)
		}
	}

	forest := assemble(rootID, childrenOf)
	metrics.RecordTreeBuild(time.Since(start), true)
	logging.Debug("tree built",
		zap.String("root", rootID),
		zap.Int("nodes", CountNodes(forest)),
		zap.Int("pages", pagesUsed))
	return forest, nil
}

// listAll follows continuation tokens until a folder's listing is complete.
// A partial page set is never returned as the full child set: any failure
// mid-pagination fails the whole folder.
func (b *Builder) listAll(ctx context.Context, folderID string, pageBudget int) ([]store.Item, int, error) {
	var items []store.Item
	pageToken := ""
	pages := 0

	for {
		if pages >= pageBudget {
			return nil, pages, ErrBuildTimeout
		}

		page, err := retry.DoWithResult(ctx, b.retry, func() (*store.ChildPage, error) {
			p, err := b.store.ListChildren(ctx, folderID, pageToken)
			if err != nil && ctx.Err() == nil {
				return nil, retry.Retryable(err)
			}
			return p, err
		})
		if err != nil {
			return nil, pages, err
		}
		pages++

		items = append(items, page.Items...)
		if page.NextPageToken == "" {
			return items, pages, nil
		}
		pageToken = page.NextPageToken
	}
}

// assemble links the flat parent->children map into a nested forest
// rooted at rootID.
func assemble(rootID string, childrenOf map[string][]*Node) []*Node {
	children := childrenOf[rootID]
	for _, child := range children {
		if child.IsFolder {
			child.Children = assemble(child.ID, childrenOf)
		}
	}
	if children == nil {
		return []*Node{}
	}
	return children
}
