package fileops

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanshare/lanshare/internal/catalog"
	"github.com/lanshare/lanshare/internal/events"
	"github.com/lanshare/lanshare/internal/identity"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	cat, err := catalog.Open(filepath.Join(dir, "data", "catalog.json"))
	require.NoError(t, err)
	svc, err := NewService(filepath.Join(dir, "storage"), cat, events.NewBroadcaster())
	require.NoError(t, err)
	return svc
}

func guest(ip string) identity.Actor {
	return identity.Actor{IP: ip}
}

func credentialed(id, username, name string, role identity.Role) identity.Actor {
	return identity.Actor{
		IP:          "192.168.1.50",
		Credentials: &identity.Credentials{ID: id, Username: username, Name: name, Role: role},
	}
}

func TestUploadListDownloadRoundTrip(t *testing.T) {
	svc := newTestService(t)
	content := "hello over the LAN"

	rec, err := svc.SaveFile(guest("192.168.1.10"), "", "notes.txt", strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", rec.Name)
	assert.NotEqual(t, rec.Name, rec.SystemName, "on-disk name carries a disambiguating prefix")
	assert.True(t, strings.HasSuffix(rec.SystemName, "-notes.txt"))
	assert.Equal(t, int64(len(content)), rec.Size)
	assert.Equal(t, "txt", rec.Type)
	assert.Equal(t, "192.168.1.10", rec.OwnerIP)

	views := svc.List("")
	require.Len(t, views, 1)
	assert.Equal(t, rec.ID, views[0].ID)
	assert.Equal(t, "notes.txt", views[0].Name)
	assert.Equal(t, int64(len(content)), views[0].Size)

	r, got, err := svc.Download(rec.ID)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "notes.txt", got.Name)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestListIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SaveFile(guest("10.0.0.1"), "", "a.txt", strings.NewReader("a"))
	require.NoError(t, err)
	_, err = svc.CreateFolder(guest("10.0.0.1"), "docs", "")
	require.NoError(t, err)

	first := svc.List("")
	second := svc.List("")
	assert.Equal(t, first, second)
}

func TestListToleratesMissingPhysicalFile(t *testing.T) {
	svc := newTestService(t)
	rec, err := svc.SaveFile(guest("10.0.0.1"), "", "gone.txt", strings.NewReader("bytes"))
	require.NoError(t, err)

	// Remove the content behind the catalog's back.
	require.NoError(t, os.Remove(svc.physicalPath(rec)))

	views := svc.List("")
	require.Len(t, views, 1)
	assert.Equal(t, "gone.txt", views[0].Name)
	assert.Equal(t, int64(0), views[0].Size)
}

func TestCreateFolderAndNesting(t *testing.T) {
	svc := newTestService(t)

	folder, err := svc.CreateFolder(guest("10.0.0.1"), "docs", "")
	require.NoError(t, err)
	assert.Equal(t, "docs", folder.Name)
	assert.Equal(t, folder.Name, folder.SystemName)
	assert.True(t, folder.IsDirectory)
	assert.Equal(t, catalog.TypeFolder, folder.Type)

	info, err := os.Stat(svc.physicalDir("docs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	rec, err := svc.SaveFile(guest("10.0.0.1"), "docs", "inner.txt", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "docs", rec.Path)

	assert.Len(t, svc.List("docs"), 1)
	assert.Len(t, svc.List(""), 1)
}

func TestCreateFolderConflict(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateFolder(guest("10.0.0.1"), "docs", "")
	require.NoError(t, err)

	_, err = svc.CreateFolder(guest("10.0.0.1"), "docs", "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateFolderValidation(t *testing.T) {
	svc := newTestService(t)
	for _, name := range []string{"", "..", "a/b"} {
		_, err := svc.CreateFolder(guest("10.0.0.1"), name, "")
		assert.ErrorIs(t, err, ErrValidation, "name %q", name)
	}
}

func TestUploadIntoMissingFolder(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SaveFile(guest("10.0.0.1"), "nope", "a.txt", strings.NewReader("a"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFolderRenameCascades(t *testing.T) {
	svc := newTestService(t)
	owner := guest("10.0.0.1")

	folder, err := svc.CreateFolder(owner, "projects", "")
	require.NoError(t, err)
	_, err = svc.CreateFolder(owner, "alpha", "projects")
	require.NoError(t, err)
	inner, err := svc.SaveFile(owner, "projects/alpha", "plan.md", strings.NewReader("plan"))
	require.NoError(t, err)

	renamed, err := svc.Rename(owner, folder.ID, "work")
	require.NoError(t, err)
	assert.Equal(t, "work", renamed.Name)
	assert.Equal(t, "work", renamed.SystemName)

	// Physical tree moved.
	_, err = os.Stat(svc.physicalDir("work/alpha"))
	assert.NoError(t, err)
	_, err = os.Stat(svc.physicalDir("projects"))
	assert.True(t, os.IsNotExist(err))

	// Descendant records rewritten, content still reachable.
	views := svc.List("work/alpha")
	require.Len(t, views, 1)
	assert.Equal(t, "plan.md", views[0].Name)

	r, _, err := svc.Download(inner.ID)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "plan", string(data))
}

func TestFolderRenameConflict(t *testing.T) {
	svc := newTestService(t)
	owner := guest("10.0.0.1")
	a, err := svc.CreateFolder(owner, "a", "")
	require.NoError(t, err)
	_, err = svc.CreateFolder(owner, "b", "")
	require.NoError(t, err)

	_, err = svc.Rename(owner, a.ID, "b")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestFileRenameKeepsContent(t *testing.T) {
	svc := newTestService(t)
	owner := guest("10.0.0.1")
	rec, err := svc.SaveFile(owner, "", "draft.txt", strings.NewReader("v1"))
	require.NoError(t, err)

	renamed, err := svc.Rename(owner, rec.ID, "final.txt")
	require.NoError(t, err)
	assert.Equal(t, "final.txt", renamed.Name)
	assert.Equal(t, rec.SystemName, renamed.SystemName, "file content keeps its on-disk name")

	r, _, err := svc.Download(rec.ID)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestFolderDeleteCascades(t *testing.T) {
	svc := newTestService(t)
	owner := guest("10.0.0.1")

	folder, err := svc.CreateFolder(owner, "tmp", "")
	require.NoError(t, err)
	inner, err := svc.SaveFile(owner, "tmp", "junk.bin", strings.NewReader("junk"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(owner, folder.ID))

	_, err = os.Stat(svc.physicalDir("tmp"))
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, svc.List(""))
	_, _, err = svc.Download(inner.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFileToleratesMissingContent(t *testing.T) {
	svc := newTestService(t)
	owner := guest("10.0.0.1")
	rec, err := svc.SaveFile(owner, "", "gone.txt", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(svc.physicalPath(rec)))

	assert.NoError(t, svc.Delete(owner, rec.ID))
	assert.Empty(t, svc.List(""))
}

func TestOwnershipEnforcement(t *testing.T) {
	svc := newTestService(t)
	alice := credentialed("u1", "alice", "Alice", identity.RoleUser)
	bob := credentialed("u2", "bob", "Bob", identity.RoleUser)
	admin := credentialed("u9", "root", "Root", identity.RoleAdmin)

	rec, err := svc.SaveFile(alice, "", "secret.txt", strings.NewReader("mine"))
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.OwnerID)
	assert.Equal(t, "alice", rec.OwnerUsername)

	// Bob can neither rename nor delete Alice's file.
	_, err = svc.Rename(bob, rec.ID, "stolen.txt")
	assert.ErrorIs(t, err, ErrForbidden)
	err = svc.Delete(bob, rec.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// The file is untouched.
	views := svc.List("")
	require.Len(t, views, 1)
	assert.Equal(t, "secret.txt", views[0].Name)

	// Alice and the admin can.
	_, err = svc.Rename(alice, rec.ID, "renamed.txt")
	assert.NoError(t, err)
	assert.NoError(t, svc.Delete(admin, rec.ID))
}

func TestGuestOwnershipByAddress(t *testing.T) {
	svc := newTestService(t)

	rec, err := svc.SaveFile(guest("192.168.1.10"), "", "mine.txt", strings.NewReader("x"))
	require.NoError(t, err)

	err = svc.Delete(guest("192.168.1.11"), rec.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	assert.NoError(t, svc.Delete(guest("192.168.1.10"), rec.ID))
}

func TestDownloadErrors(t *testing.T) {
	svc := newTestService(t)
	owner := guest("10.0.0.1")

	_, _, err := svc.Download("no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)

	folder, err := svc.CreateFolder(owner, "docs", "")
	require.NoError(t, err)
	_, _, err = svc.Download(folder.ID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDashboardAggregates(t *testing.T) {
	svc := newTestService(t)
	owner := guest("10.0.0.1")

	_, err := svc.SaveFile(owner, "", "a.txt", strings.NewReader("aaaa"))
	require.NoError(t, err)
	_, err = svc.SaveFile(owner, "", "b.txt", strings.NewReader("bb"))
	require.NoError(t, err)
	_, err = svc.CreateFolder(owner, "docs", "")
	require.NoError(t, err)

	stats := svc.Dashboard()
	assert.Equal(t, 3, stats.TotalFiles)
	assert.Equal(t, int64(6), stats.TotalSize)
	assert.Equal(t, 2, stats.TypeCounts["txt"])
	assert.Equal(t, 1, stats.TypeCounts[catalog.TypeFolder])
	assert.Len(t, stats.Recent, 3)
}

func TestMutationsPublishChangeEvents(t *testing.T) {
	dir := t.TempDir()
	cat, err := catalog.Open(filepath.Join(dir, "catalog.json"))
	require.NoError(t, err)
	b := events.NewBroadcaster()
	svc, err := NewService(filepath.Join(dir, "storage"), cat, b)
	require.NoError(t, err)

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	_, err = svc.CreateFolder(guest("10.0.0.1"), "docs", "")
	require.NoError(t, err)

	types := map[string]bool{}
	var contentsPath string
	for i := 0; i < 3; i++ {
		ev := <-ch
		types[ev.Type] = true
		if ev.Type == events.EventContentsChanged {
			contentsPath = ev.Path
		}
	}
	assert.True(t, types[events.EventContentsChanged])
	assert.True(t, types[events.EventDashboard])
	assert.True(t, types[events.EventStorage])
	assert.Equal(t, "", contentsPath)
}
