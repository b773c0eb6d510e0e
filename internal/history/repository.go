package history

import "context"

// Repository persists Project and ProjectVersion records.
// Lookups return (nil, nil) when the record does not exist.
// Returned values are detached copies; callers may not expect later
// commits to show up in them.
type Repository interface {
	// Project operations

	// CreateProject inserts a new project with no versions.
	// Returns ErrProjectExists if the workspace/name pair is taken.
	CreateProject(ctx context.Context, project *Project) error

	// FindProjectByID returns a project by its ID.
	FindProjectByID(ctx context.Context, id string) (*Project, error)

	// FindProjectByName returns a project by workspace and name.
	FindProjectByName(ctx context.Context, workspace, name string) (*Project, error)

	// ListProjects returns all projects ordered by workspace and name.
	ListProjects(ctx context.Context) ([]*Project, error)

	// DeleteProject deletes a project and all of its versions.
	DeleteProject(ctx context.Context, id string) error

	// Version operations

	// FindVersion returns one version of a project.
	FindVersion(ctx context.Context, projectID string, version VersionID) (*ProjectVersion, error)

	// ListVersions returns all versions of a project, oldest first.
	ListVersions(ctx context.Context, projectID string) ([]*ProjectVersion, error)

	// CommitVersion atomically inserts version and updates project to match it.
	// project.LatestVersion must equal version.Version and the stored project
	// must still be at version.Version-1, otherwise ErrVersionConflict is returned
	// and nothing is written.
	CommitVersion(ctx context.Context, project *Project, version *ProjectVersion) error
}
