package content

import "errors"

var (
	ErrInvalidParent = errors.New("no folder at parent path")
	ErrDuplicateName = errors.New("a sibling with that name already exists")
	ErrNotFound      = errors.New("not found")
	ErrNotAFile      = errors.New("not a file")
	ErrCyclicMove    = errors.New("cannot move a folder into its own subtree")
	ErrInvalidName   = errors.New("invalid name")
	ErrRootImmutable = errors.New("the project root cannot be renamed, moved or deleted")
	ErrInvalidTree   = errors.New("invalid tree")
)
