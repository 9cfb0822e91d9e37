package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

func lookup(ctx context.Context, t *testing.T, dir *Dir, name string) (fusefs.Node, error) {
	t.Helper()
	return dir.Lookup(ctx, &fuse.LookupRequest{Name: name}, &fuse.LookupResponse{})
}

func TestDirOperations(t *testing.T) {
	vfs, ops, sourceDir := setupTestFS(t)

	testFiles := []string{
		"file1.txt",
		"dir1/file2.txt",
		"dir1/dir2/file3.txt",
	}
	for _, tf := range testFiles {
		writeSourceFile(t, sourceDir, tf, "test")
	}

	ctx := context.Background()

	t.Run("RootDirectory", func(t *testing.T) {
		dir := rootDir(t, vfs)

		attr := &fuse.Attr{}
		if err := dir.Attr(ctx, attr); err != nil {
			t.Errorf("Failed to get root attributes: %v", err)
		}
		if attr.Mode&os.ModeDir == 0 {
			t.Error("Root should be a directory")
		}
		if attr.Uid != vfs.uid || attr.Gid != vfs.gid {
			t.Errorf("Expected owner %d:%d, got %d:%d", vfs.uid, vfs.gid, attr.Uid, attr.Gid)
		}

		entries, err := dir.ReadDirAll(ctx)
		if err != nil {
			t.Fatalf("Failed to read root directory: %v", err)
		}

		types := make(map[string]fuse.DirentType)
		for _, entry := range entries {
			types[entry.Name] = entry.Type
		}
		for name, want := range map[string]fuse.DirentType{
			".":         fuse.DT_Dir,
			"..":        fuse.DT_Dir,
			"file1.txt": fuse.DT_File,
			"dir1":      fuse.DT_Dir,
		} {
			got, ok := types[name]
			if !ok {
				t.Errorf("Root listing is missing %q", name)
				continue
			}
			if got != want {
				t.Errorf("Entry %q has type %v, want %v", name, got, want)
			}
		}
		if len(entries) != 4 {
			t.Errorf("Expected 4 entries, got %d", len(entries))
		}
		if ops.Handles().Len() != 0 || ops.Cursors().Len() != 0 {
			t.Error("Listing should release its handle and enumeration")
		}
	})

	t.Run("Lookup", func(t *testing.T) {
		dir := rootDir(t, vfs)

		resp := &fuse.LookupResponse{}
		node, err := dir.Lookup(ctx, &fuse.LookupRequest{Name: "dir1"}, resp)
		if err != nil {
			t.Fatalf("Failed to lookup dir1: %v", err)
		}
		sub, ok := node.(*Dir)
		if !ok {
			t.Fatalf("dir1 should be a Dir, got %T", node)
		}
		if sub.Path() != "/dir1" {
			t.Errorf("Expected path /dir1, got %q", sub.Path())
		}
		if resp.Attr.Mode&os.ModeDir == 0 {
			t.Error("Lookup response should describe a directory")
		}
		if resp.EntryValid != vfs.opts.AttrTTL {
			t.Errorf("Expected entry TTL %v, got %v", vfs.opts.AttrTTL, resp.EntryValid)
		}

		again, err := lookup(ctx, t, dir, "dir1")
		if err != nil {
			t.Fatalf("Second lookup failed: %v", err)
		}
		if again != node {
			t.Error("Repeated lookups should return the cached node")
		}

		resp = &fuse.LookupResponse{}
		fileNode, err := sub.Lookup(ctx, &fuse.LookupRequest{Name: "file2.txt"}, resp)
		if err != nil {
			t.Fatalf("Failed to lookup file2.txt: %v", err)
		}
		if _, ok := fileNode.(*File); !ok {
			t.Errorf("file2.txt should be a File, got %T", fileNode)
		}
		if resp.Attr.Size != 4 {
			t.Errorf("Expected size 4, got %d", resp.Attr.Size)
		}

		_, err = lookup(ctx, t, dir, "missing")
		if !errors.Is(err, fuse.Errno(syscall.ENOENT)) {
			t.Errorf("Expected ENOENT for missing entry, got %v", err)
		}
	})

	t.Run("CreateDirectory", func(t *testing.T) {
		dir := rootDir(t, vfs)

		newDir, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "newdir", Mode: os.ModeDir | 0755})
		if err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}

		attr := &fuse.Attr{}
		if err := newDir.Attr(ctx, attr); err != nil {
			t.Errorf("Failed to get new directory attributes: %v", err)
		}
		if attr.Mode&os.ModeDir == 0 {
			t.Error("Created node should be a directory")
		}

		info, err := os.Stat(filepath.Join(sourceDir, "newdir"))
		if err != nil {
			t.Fatalf("Directory was not created in the source tree: %v", err)
		}
		if !info.IsDir() {
			t.Error("Source entry should be a directory")
		}

		_, err = dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "newdir", Mode: os.ModeDir | 0755})
		if !errors.Is(err, fuse.Errno(syscall.EEXIST)) {
			t.Errorf("Expected EEXIST for existing directory, got %v", err)
		}
	})

	t.Run("CreateNestedDirectory", func(t *testing.T) {
		dir := rootDir(t, vfs)

		parent, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "parent", Mode: os.ModeDir | 0755})
		if err != nil {
			t.Fatalf("Failed to create parent directory: %v", err)
		}
		if _, err := parent.(*Dir).Mkdir(ctx, &fuse.MkdirRequest{Name: "child", Mode: os.ModeDir | 0755}); err != nil {
			t.Fatalf("Failed to create child directory: %v", err)
		}

		if _, err := os.Stat(filepath.Join(sourceDir, "parent", "child")); err != nil {
			t.Errorf("Nested directory missing from source tree: %v", err)
		}
	})

	t.Run("RemoveDirectory", func(t *testing.T) {
		dir := rootDir(t, vfs)

		err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "parent", Dir: true})
		if !errors.Is(err, fuse.Errno(syscall.ENOTEMPTY)) {
			t.Errorf("Expected ENOTEMPTY, got %v", err)
		}

		parent, err := lookup(ctx, t, dir, "parent")
		if err != nil {
			t.Fatalf("Failed to lookup parent: %v", err)
		}
		if err := parent.(*Dir).Remove(ctx, &fuse.RemoveRequest{Name: "child", Dir: true}); err != nil {
			t.Fatalf("Failed to remove child: %v", err)
		}
		if err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "parent", Dir: true}); err != nil {
			t.Fatalf("Failed to remove parent: %v", err)
		}

		if _, err := os.Stat(filepath.Join(sourceDir, "parent")); !os.IsNotExist(err) {
			t.Error("Directory should be gone from the source tree")
		}
		if _, cached := vfs.cachedNode("/parent"); cached {
			t.Error("Removed directory should be dropped from the node cache")
		}
	})

	t.Run("RemoveFile", func(t *testing.T) {
		dir := rootDir(t, vfs)
		writeSourceFile(t, sourceDir, "victim.txt", "x")

		if err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "victim.txt"}); err != nil {
			t.Fatalf("Failed to remove file: %v", err)
		}
		if _, err := os.Stat(filepath.Join(sourceDir, "victim.txt")); !os.IsNotExist(err) {
			t.Error("File should be gone from the source tree")
		}

		err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "victim.txt"})
		if !errors.Is(err, fuse.Errno(syscall.ENOENT)) {
			t.Errorf("Expected ENOENT for second removal, got %v", err)
		}
	})

	t.Run("RenameDirectory", func(t *testing.T) {
		dir := rootDir(t, vfs)

		dir1, err := lookup(ctx, t, dir, "dir1")
		if err != nil {
			t.Fatalf("Failed to lookup dir1: %v", err)
		}
		file2, err := dir1.(*Dir).Lookup(ctx, &fuse.LookupRequest{Name: "file2.txt"}, &fuse.LookupResponse{})
		if err != nil {
			t.Fatalf("Failed to lookup file2.txt: %v", err)
		}

		if err := dir.Rename(ctx, &fuse.RenameRequest{OldName: "dir1", NewName: "moved"}, dir); err != nil {
			t.Fatalf("Failed to rename: %v", err)
		}

		if _, err := os.Stat(filepath.Join(sourceDir, "moved", "dir2", "file3.txt")); err != nil {
			t.Errorf("Renamed tree missing from source: %v", err)
		}
		if got := file2.(*File).Path(); got != "/moved/file2.txt" {
			t.Errorf("Cached child should follow the rename, got %q", got)
		}

		attr := &fuse.Attr{}
		if err := file2.Attr(ctx, attr); err != nil {
			t.Errorf("Moved file should still stat: %v", err)
		}
	})

	t.Run("RenameAcrossDirectories", func(t *testing.T) {
		dir := rootDir(t, vfs)

		moved, err := lookup(ctx, t, dir, "moved")
		if err != nil {
			t.Fatalf("Failed to lookup moved: %v", err)
		}
		if err := dir.Rename(ctx, &fuse.RenameRequest{OldName: "file1.txt", NewName: "file1.txt"}, moved.(*Dir)); err != nil {
			t.Fatalf("Failed to move file: %v", err)
		}
		if _, err := os.Stat(filepath.Join(sourceDir, "moved", "file1.txt")); err != nil {
			t.Errorf("Moved file missing: %v", err)
		}
	})

	t.Run("RenameInvalidTarget", func(t *testing.T) {
		dir := rootDir(t, vfs)
		target := vfs.nodeFor("/moved/file2.txt", false)

		err := dir.Rename(ctx, &fuse.RenameRequest{OldName: "moved", NewName: "x"}, target)
		if !errors.Is(err, fuse.Errno(syscall.EINVAL)) {
			t.Errorf("Expected EINVAL, got %v", err)
		}
	})
}

func TestReadDirAllMissingDirectory(t *testing.T) {
	vfs, _, sourceDir := setupTestFS(t)
	ctx := context.Background()

	writeSourceFile(t, sourceDir, "gone/file.txt", "x")
	gone, err := lookup(ctx, t, rootDir(t, vfs), "gone")
	if err != nil {
		t.Fatalf("Failed to lookup gone: %v", err)
	}
	if err := os.RemoveAll(filepath.Join(sourceDir, "gone")); err != nil {
		t.Fatalf("Failed to remove directory: %v", err)
	}

	_, err = gone.(*Dir).ReadDirAll(ctx)
	if !errors.Is(err, fuse.Errno(syscall.ENOENT)) {
		t.Errorf("Expected ENOENT, got %v", err)
	}

	err = gone.(*Dir).Attr(ctx, &fuse.Attr{})
	if !errors.Is(err, fuse.Errno(syscall.ENOENT)) {
		t.Errorf("Expected ENOENT from Attr, got %v", err)
	}
}

func TestBackslashNames(t *testing.T) {
	vfs, _, sourceDir := setupTestFS(t)
	ctx := context.Background()
	root := rootDir(t, vfs)

	writeSourceFile(t, sourceDir, "x/y", "keep")
	writeSourceFile(t, sourceDir, `a\b`, "literal")

	_, _, err := root.Create(ctx, &fuse.CreateRequest{Name: `x\z`, Flags: fuse.OpenReadWrite, Mode: 0644}, &fuse.CreateResponse{})
	if !errors.Is(err, fuse.Errno(syscall.EINVAL)) {
		t.Errorf("Expected EINVAL from Create, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(sourceDir, "x", "z")); !os.IsNotExist(err) {
		t.Error("Create must not reach into a subdirectory")
	}

	_, err = root.Mkdir(ctx, &fuse.MkdirRequest{Name: `x\d`, Mode: os.ModeDir | 0755})
	if !errors.Is(err, fuse.Errno(syscall.EINVAL)) {
		t.Errorf("Expected EINVAL from Mkdir, got %v", err)
	}

	err = root.Remove(ctx, &fuse.RemoveRequest{Name: `x\y`})
	if !errors.Is(err, fuse.Errno(syscall.EINVAL)) {
		t.Errorf("Expected EINVAL from Remove, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(sourceDir, "x", "y")); err != nil {
		t.Errorf("Remove must not delete x/y: %v", err)
	}

	err = root.Rename(ctx, &fuse.RenameRequest{OldName: `x\y`, NewName: "moved"}, root)
	if !errors.Is(err, fuse.Errno(syscall.EINVAL)) {
		t.Errorf("Expected EINVAL from Rename, got %v", err)
	}
	err = root.Rename(ctx, &fuse.RenameRequest{OldName: "x", NewName: `x\w`}, root)
	if !errors.Is(err, fuse.Errno(syscall.EINVAL)) {
		t.Errorf("Expected EINVAL for the new name, got %v", err)
	}

	_, err = lookup(ctx, t, root, `a\b`)
	if !errors.Is(err, fuse.Errno(syscall.EINVAL)) {
		t.Errorf("Expected EINVAL from Lookup, got %v", err)
	}

	entries, err := root.ReadDirAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read root directory: %v", err)
	}
	for _, e := range entries {
		if e.Name == `a\b` {
			t.Error("Listing should hide names it cannot look up")
		}
	}
	if len(entries) != 3 {
		t.Errorf("Expected ., .. and x, got %d entries", len(entries))
	}
}

func TestReadDirAllResolvesSymlinks(t *testing.T) {
	vfs, _, sourceDir := setupTestFS(t)
	ctx := context.Background()

	writeSourceFile(t, sourceDir, "real/file.txt", "x")
	if err := os.Symlink("real", filepath.Join(sourceDir, "dirlink")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}
	if err := os.Symlink("real/file.txt", filepath.Join(sourceDir, "filelink")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	root := rootDir(t, vfs)
	entries, err := root.ReadDirAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read root directory: %v", err)
	}
	types := make(map[string]fuse.DirentType)
	for _, e := range entries {
		types[e.Name] = e.Type
	}
	if types["dirlink"] != fuse.DT_Dir {
		t.Errorf("Expected dirlink to list as a directory, got %v", types["dirlink"])
	}
	if types["filelink"] != fuse.DT_File {
		t.Errorf("Expected filelink to list as a file, got %v", types["filelink"])
	}

	node, err := lookup(ctx, t, root, "dirlink")
	if err != nil {
		t.Fatalf("Failed to lookup dirlink: %v", err)
	}
	if _, ok := node.(*Dir); !ok {
		t.Errorf("Lookup should agree with the listing, got %T", node)
	}
}
