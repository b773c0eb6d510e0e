package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Options tune an Engine.
type Options struct {
	// VersionedExtensions lists the file types that may carry changesets.
	// Empty uses DefaultVersionedExtensions.
	VersionedExtensions []string
}

// Engine exposes the version-history operations. It holds no global state;
// everything it needs is passed to NewEngine.
type Engine struct {
	repo    Repository
	blobs   BlobStore
	staging StagingArea
	differ  *Differ
	clock   Clock
	ids     IDGenerator
	types   FileTypes
	locks   *lockSet
}

// NewEngine creates an Engine from its collaborators.
func NewEngine(repo Repository, blobs BlobStore, staging StagingArea, differ *Differ, clock Clock, ids IDGenerator, opts Options) *Engine {
	return &Engine{
		repo:    repo,
		blobs:   blobs,
		staging: staging,
		differ:  differ,
		clock:   clock,
		ids:     ids,
		types:   NewFileTypes(opts.VersionedExtensions),
		locks:   newLockSet(),
	}
}

// FileTypes returns the classifier the engine validates with.
func (e *Engine) FileTypes() FileTypes {
	return e.types
}

// CreateProject creates an empty project at v0.
func (e *Engine) CreateProject(ctx context.Context, np NewProject) (*Project, error) {
	name := strings.TrimSpace(np.Name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, &ValidationError{Path: np.Name, Rule: RuleInvalidPath, Detail: "invalid project name"}
	}

	now := e.clock.Now()
	project := &Project{
		ID:        e.ids.New(),
		Name:      name,
		Workspace: np.Workspace,
		Creator:   np.Creator,
		CreatedAt: now,
		UpdatedAt: now,
		Files:     []FileEntry{},
		Tags:      []string{},
	}
	if err := e.repo.CreateProject(ctx, project); err != nil {
		if errors.Is(err, ErrProjectExists) {
			return nil, err
		}
		return nil, fmt.Errorf("creating project %s: %w", name, err)
	}
	return project, nil
}

// GetProject returns a project by ID.
func (e *Engine) GetProject(ctx context.Context, projectID string) (*Project, error) {
	project, err := e.repo.FindProjectByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("finding project %s: %w", projectID, err)
	}
	if project == nil {
		return nil, &NotFoundError{Kind: "project", Key: projectID}
	}
	return project, nil
}

// FindProject returns a project by workspace and name.
func (e *Engine) FindProject(ctx context.Context, workspace, name string) (*Project, error) {
	project, err := e.repo.FindProjectByName(ctx, workspace, name)
	if err != nil {
		return nil, fmt.Errorf("finding project %s/%s: %w", workspace, name, err)
	}
	if project == nil {
		return nil, &NotFoundError{Kind: "project", Key: workspace + "/" + name}
	}
	return project, nil
}

// ListProjects returns every project.
func (e *Engine) ListProjects(ctx context.Context) ([]*Project, error) {
	projects, err := e.repo.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return projects, nil
}

// DeleteProject removes a project, its versions and all of its blobs.
// The records go first so a failed blob cleanup never leaves a project
// pointing at missing content.
func (e *Engine) DeleteProject(ctx context.Context, projectID string) error {
	unlock, err := e.locks.Lock(ctx, projectID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := e.GetProject(ctx, projectID); err != nil {
		return err
	}
	if err := e.repo.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("deleting project %s: %w", projectID, err)
	}
	if err := e.blobs.DeletePrefix(ctx, ProjectPrefix(projectID)); err != nil {
		return &StorageIOError{Op: "delete", Key: ProjectPrefix(projectID), Err: err}
	}
	return nil
}

// ListVersions returns all versions of a project, oldest first.
func (e *Engine) ListVersions(ctx context.Context, projectID string) ([]*ProjectVersion, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	versions, err := e.repo.ListVersions(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing versions of %s: %w", projectID, err)
	}
	return versions, nil
}

// GetVersion returns one committed version.
func (e *Engine) GetVersion(ctx context.Context, projectID string, version VersionID) (*ProjectVersion, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	pv, err := e.repo.FindVersion(ctx, projectID, version)
	if err != nil {
		return nil, fmt.Errorf("finding version %s of %s: %w", version, projectID, err)
	}
	if pv == nil {
		return nil, &NotFoundError{Kind: "version", Key: projectID + "@" + version.String()}
	}
	return pv, nil
}

// GetSnapshot returns the file list of a committed version.
func (e *Engine) GetSnapshot(ctx context.Context, projectID string, version VersionID) ([]FileEntry, error) {
	pv, err := e.GetVersion(ctx, projectID, version)
	if err != nil {
		return nil, err
	}
	return cloneFiles(pv.Files), nil
}

// FileHistory lists the versions in which path was written or removed,
// newest first.
func (e *Engine) FileHistory(ctx context.Context, projectID, filePath string) ([]FileHistoryEntry, error) {
	versions, err := e.ListVersions(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var out []FileHistoryEntry
	for i := len(versions) - 1; i >= 0; i-- {
		pv := versions[i]
		kind, ok := changeKindOf(pv.Changes, filePath)
		if !ok {
			continue
		}
		h := FileHistoryEntry{
			Version:   pv.Version,
			Change:    kind,
			Author:    pv.Author,
			CreatedAt: pv.CreatedAt,
		}
		if entry, found := findFile(pv.Files, filePath); found {
			h.Checksum = entry.Checksum
			h.Size = entry.Size
			if kind == ChangePatched && entry.IsFullCopy() {
				// a patch that fell back to a full upload
				h.Change = ChangeReplaced
			}
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, &NotFoundError{Kind: "file", Key: projectID + ":" + filePath}
	}
	return out, nil
}

func changeKindOf(cs ChangeSet, filePath string) (ChangeKind, bool) {
	for _, a := range cs.Added {
		if a.Path == filePath {
			return ChangeAdded, true
		}
	}
	for _, r := range cs.Removed {
		if r.Path == filePath {
			return ChangeRemoved, true
		}
	}
	for _, u := range cs.Updated {
		if u.Path == filePath {
			if u.Kind == UpdateReplace {
				return ChangeReplaced, true
			}
			return ChangePatched, true
		}
	}
	return "", false
}

// CreateChangeset computes the changeset that turns base into modified.
func (e *Engine) CreateChangeset(ctx context.Context, base, modified []byte) ([]byte, error) {
	return e.differ.Create(ctx, base, modified)
}
