package merkle

import "path"

// ChangeKind classifies one entry difference found by Diff.
type ChangeKind byte

const (
	Added ChangeKind = iota
	Removed
	Modified
)

// FileChange is one changed file between two commit trees.
type FileChange struct {
	Path string
	Kind ChangeKind
	Old  *FileNode // nil when Kind == Added
	New  *FileNode // nil when Kind == Removed
}

// Diff walks two commits' trees starting at root and returns every changed
// file, short-circuiting whole subtrees whose DirHash is identical between
// the two commits (§4.4) — the key property push/pull and checkout rely on
// to avoid descending into unchanged directories.
func Diff(s *Store, fromCommit, toCommit string) ([]FileChange, error) {
	var changes []FileChange
	if err := diffDir(s, fromCommit, toCommit, "", &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

func diffDir(s *Store, fromCommit, toCommit, dirPath string, out *[]FileChange) error {
	oldDir, oldOK, err := s.Dir(fromCommit, dirPath)
	if err != nil {
		return err
	}
	newDir, newOK, err := s.Dir(toCommit, dirPath)
	if err != nil {
		return err
	}

	if oldOK && newOK && oldDir.Hash == newDir.Hash {
		return nil // identical subtree, no descent needed
	}

	oldChildren := map[string]DirEntry{}
	if oldOK {
		for _, c := range oldDir.Children {
			oldChildren[c.Name] = c
		}
	}
	newChildren := map[string]DirEntry{}
	if newOK {
		for _, c := range newDir.Children {
			newChildren[c.Name] = c
		}
	}

	for name, oldChild := range oldChildren {
		childPath := path.Join(dirPath, name)
		newChild, stillPresent := newChildren[name]

		switch {
		case !stillPresent:
			if err := removeSubtree(s, fromCommit, childPath, oldChild, out); err != nil {
				return err
			}
		case oldChild.Kind != newChild.Kind:
			if err := removeSubtree(s, fromCommit, childPath, oldChild, out); err != nil {
				return err
			}
			if err := addSubtree(s, toCommit, childPath, newChild, out); err != nil {
				return err
			}
		case oldChild.Hash == newChild.Hash:
			// unchanged, nothing to do
		case oldChild.Kind == ChildDir:
			if err := diffDir(s, fromCommit, toCommit, childPath, out); err != nil {
				return err
			}
		default:
			oldFile, _, err := s.File(fromCommit, childPath)
			if err != nil {
				return err
			}
			newFile, _, err := s.File(toCommit, childPath)
			if err != nil {
				return err
			}
			*out = append(*out, FileChange{Path: childPath, Kind: Modified, Old: oldFile, New: newFile})
		}
	}

	for name, newChild := range newChildren {
		if _, present := oldChildren[name]; present {
			continue
		}
		childPath := path.Join(dirPath, name)
		if err := addSubtree(s, toCommit, childPath, newChild, out); err != nil {
			return err
		}
	}

	return nil
}

func addSubtree(s *Store, commit, p string, entry DirEntry, out *[]FileChange) error {
	if entry.Kind == ChildFile {
		f, _, err := s.File(commit, p)
		if err != nil {
			return err
		}
		*out = append(*out, FileChange{Path: p, Kind: Added, New: f})
		return nil
	}
	dir, _, err := s.Dir(commit, p)
	if err != nil {
		return err
	}
	for _, c := range dir.Children {
		if err := addSubtree(s, commit, path.Join(p, c.Name), c, out); err != nil {
			return err
		}
	}
	return nil
}

func removeSubtree(s *Store, commit, p string, entry DirEntry, out *[]FileChange) error {
	if entry.Kind == ChildFile {
		f, _, err := s.File(commit, p)
		if err != nil {
			return err
		}
		*out = append(*out, FileChange{Path: p, Kind: Removed, Old: f})
		return nil
	}
	dir, _, err := s.Dir(commit, p)
	if err != nil {
		return err
	}
	for _, c := range dir.Children {
		if err := removeSubtree(s, commit, path.Join(p, c.Name), c, out); err != nil {
			return err
		}
	}
	return nil
}
