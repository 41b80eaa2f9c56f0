package rdiff

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// deletedDirFixture extends fixtureRepo with a directory removed at the
// second backup date, remembered only through increments.
func deletedDirFixture(t *testing.T) *Repo {
	t.Helper()
	_, repo := fixtureRepo(t)
	incDir := filepath.Join(repo.IncrementsPath(), "R\xc3\xa9pertoire Supprim\xc3\xa9")
	if errMkdir := os.MkdirAll(incDir, 0o755); errMkdir != nil {
		t.Fatal(errMkdir)
	}
	// The directory itself: existed at t1, missing from t2 on.
	writeFile(t, filepath.Join(repo.IncrementsPath(), "R\xc3\xa9pertoire Supprim\xc3\xa9.2014-11-01T15;05850;05826-04;05800.dir"), "")
	writeFile(t, filepath.Join(repo.IncrementsPath(), "R\xc3\xa9pertoire Supprim\xc3\xa9.2014-11-01T15;05851;05815-04;05800.missing"), "")
	// Its three children.
	for _, name := range []string{"Untitled Empty Text File", "Untitled Empty Text File 2", "Untitled Empty Text File 3"} {
		writeFile(t, filepath.Join(incDir, name+".2014-11-01T15;05850;05826-04;05800.snapshot.gz"), "")
	}
	return repo
}

func TestGetPathHidesDataDir(t *testing.T) {
	_, repo := fixtureRepo(t)
	for _, rel := range []string{DataDirName, DataDirName + "/increments"} {
		if _, errGet := repo.GetPath(rel); !errors.Is(errGet, ErrAccessDenied) {
			t.Errorf("GetPath(%q): expected ErrAccessDenied, got %v", rel, errGet)
		}
	}
}

func TestGetPathUnknownName(t *testing.T) {
	_, repo := fixtureRepo(t)
	if _, errGet := repo.GetPath("never-existed"); !errors.Is(errGet, ErrDoesNotExist) {
		t.Errorf("expected ErrDoesNotExist, got %v", errGet)
	}
}

func TestGetPathDeletedDirectoryStillResolves(t *testing.T) {
	repo := deletedDirFixture(t)
	path, errGet := repo.GetPath("R\xc3\xa9pertoire Supprim\xc3\xa9")
	if errGet != nil {
		t.Fatalf("deleted dir did not resolve: %v", errGet)
	}
	if path.Exists() {
		t.Errorf("deleted dir reported as existing")
	}
}

func TestGetPathSymlinkEscapeDenied(t *testing.T) {
	userRoot, repo := fixtureRepo(t)
	outside := t.TempDir()
	if errLink := os.Symlink(outside, filepath.Join(repo.Root, "escape")); errLink != nil {
		t.Skipf("symlink: %v", errLink)
	}
	_, errGet := repo.GetPath("escape")
	if !errors.Is(errGet, ErrSymlinkAccessDenied) {
		t.Errorf("expected ErrSymlinkAccessDenied, got %v", errGet)
	}
	// A symlink staying inside the root is fine.
	if errLink := os.Symlink(filepath.Join(repo.Root, "Revisions"), filepath.Join(repo.Root, "inside")); errLink != nil {
		t.Fatal(errLink)
	}
	if _, errGet := repo.GetPath("inside"); errGet != nil {
		t.Errorf("inside link rejected: %v", errGet)
	}
	_ = userRoot
}

func TestGetPathBrokenSymlink(t *testing.T) {
	_, repo := fixtureRepo(t)
	if errLink := os.Symlink(filepath.Join(repo.Root, "gone"), filepath.Join(repo.Root, "broken")); errLink != nil {
		t.Skipf("symlink: %v", errLink)
	}
	if _, errGet := repo.GetPath("broken"); !errors.Is(errGet, ErrDoesNotExist) {
		t.Errorf("expected ErrDoesNotExist, got %v", errGet)
	}
}

func TestDirEntriesRootHidesDataDir(t *testing.T) {
	repo := deletedDirFixture(t)
	root, errGet := repo.GetPath("")
	if errGet != nil {
		t.Fatal(errGet)
	}
	entries, errList := root.DirEntries()
	if errList != nil {
		t.Fatal(errList)
	}
	names := map[string]bool{}
	for _, entry := range entries {
		names[entry.Name] = true
	}
	if names[DataDirName] {
		t.Errorf("rdiff-backup-data leaked into listing")
	}
	for _, expected := range []string{"Fichier @ root", "Revisions", "R\xc3\xa9pertoire Supprim\xc3\xa9"} {
		if !names[expected] {
			t.Errorf("missing entry %q in %v", expected, names)
		}
	}
}

func TestDeletedDirectoryListsChildren(t *testing.T) {
	repo := deletedDirFixture(t)
	path, errGet := repo.GetPath("R\xc3\xa9pertoire Supprim\xc3\xa9")
	if errGet != nil {
		t.Fatal(errGet)
	}
	entries, errList := path.DirEntries()
	if errList != nil {
		t.Fatal(errList)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 children, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.Exists {
			t.Errorf("deleted child %q reported as existing", entry.Name)
		}
		if entry.IsDir() {
			t.Errorf("child %q reported as directory", entry.Name)
		}
	}
}

func TestDirEntriesAtFiltersByDate(t *testing.T) {
	repo := deletedDirFixture(t)
	root, _ := repo.GetPath("")
	beforeFirst := FromUnix(0)
	entries, errList := root.DirEntriesAt(beforeFirst)
	if errList != nil {
		t.Fatal(errList)
	}
	for _, entry := range entries {
		if entry.Name == "R\xc3\xa9pertoire Supprim\xc3\xa9" {
			t.Errorf("deleted dir visible before its first increment")
		}
	}
	atLast := repo.LastBackupDate()
	entries, _ = root.DirEntriesAt(atLast)
	found := false
	for _, entry := range entries {
		if entry.Name == "R\xc3\xa9pertoire Supprim\xc3\xa9" {
			found = true
		}
	}
	if !found {
		t.Errorf("deleted dir not listed at last backup date")
	}
}

func TestDirEntriesAtKeepsMirrorEntriesModifiedLater(t *testing.T) {
	_, repo := fixtureRepo(t)
	if errMkdir := os.MkdirAll(repo.IncrementsPath(), 0o755); errMkdir != nil {
		t.Fatal(errMkdir)
	}
	// "Fichier @ root" changed at t3 but already existed at t1.
	writeFile(t, filepath.Join(repo.IncrementsPath(), "Fichier @ root.2014-11-05T16;05804;05830-05;05800.diff.gz"), "")
	// "Nouveau" first appeared at t3: missing at t2, no earlier history.
	writeFile(t, filepath.Join(repo.Root, "Nouveau"), "late arrival\n")
	writeFile(t, filepath.Join(repo.IncrementsPath(), "Nouveau.2014-11-01T15;05851;05815-04;05800.missing"), "")

	root, errGet := repo.GetPath("")
	if errGet != nil {
		t.Fatal(errGet)
	}
	entries, errList := root.DirEntriesAt(repo.BackupDates()[0])
	if errList != nil {
		t.Fatal(errList)
	}
	names := map[string]bool{}
	for _, entry := range entries {
		names[entry.Name] = true
	}
	if !names["Fichier @ root"] {
		t.Errorf("an entry modified after the date must still list: %v", names)
	}
	if names["Nouveau"] {
		t.Errorf("an entry created after the date must not list: %v", names)
	}

	atLast, errLast := root.DirEntriesAt(repo.LastBackupDate())
	if errLast != nil {
		t.Fatal(errLast)
	}
	names = map[string]bool{}
	for _, entry := range atLast {
		names[entry.Name] = true
	}
	if !names["Nouveau"] || !names["Fichier @ root"] {
		t.Errorf("entries missing at last backup date: %v", names)
	}
}

func TestChangeDatesMissingSubstitution(t *testing.T) {
	repo := deletedDirFixture(t)
	root, _ := repo.GetPath("")
	entry, errEntry := root.Entry("R\xc3\xa9pertoire Supprim\xc3\xa9")
	if errEntry != nil {
		t.Fatal(errEntry)
	}
	dates := entry.ChangeDates()
	if len(dates) != 2 {
		t.Fatalf("expected 2 change dates, got %d: %v", len(dates), dates)
	}
	// The .missing increment at t2 contributes t3, the first backup date
	// strictly after it: the moment the directory was actually gone.
	if got := dates[1].String(); got != "2014-11-05T16:04:30-05:00" {
		t.Errorf("missing substitution: got %q", got)
	}
}

func TestChangeDatesExistingEntryEndsAtLastBackup(t *testing.T) {
	_, repo := fixtureRepo(t)
	root, _ := repo.GetPath("")
	entry, errEntry := root.Entry("Fichier @ root")
	if errEntry != nil {
		t.Fatal(errEntry)
	}
	dates := entry.ChangeDates()
	if len(dates) == 0 {
		t.Fatal("no change dates")
	}
	if !dates[len(dates)-1].Equal(repo.LastBackupDate()) {
		t.Errorf("existing entry must end at last backup date")
	}
}

func TestDeletedFileSizeFromFileStatistics(t *testing.T) {
	repo := deletedDirFixture(t)
	writeGzipFile(t, filepath.Join(repo.DataPath(), "file_statistics.2014-11-05T16;05804;05830-05;05800.data.gz"),
		"# Format: path changed source_size mirror_size increment_size\n"+
			"R\xc3\xa9pertoire Supprim\xc3\xa9/Untitled Empty Text File 1 21 NA 0\n")
	path, _ := repo.GetPath("R\xc3\xa9pertoire Supprim\xc3\xa9")
	entry, errEntry := path.Entry("Untitled Empty Text File")
	if errEntry != nil {
		t.Fatal(errEntry)
	}
	if got := entry.FileSize(); got != 21 {
		t.Errorf("deleted file size: got %d", got)
	}
}

func TestRestoreDatesStopAtDeletion(t *testing.T) {
	repo := deletedDirFixture(t)
	root, _ := repo.GetPath("")
	entry, _ := root.Entry("R\xc3\xa9pertoire Supprim\xc3\xa9")
	dates := entry.RestoreDates()
	last := repo.LastBackupDate()
	for _, date := range dates {
		if date.After(last) {
			t.Errorf("restore date after deletion: %s", date)
		}
	}
	if len(dates) == 0 {
		t.Fatal("no restore dates for deleted dir")
	}
	path, _ := repo.GetPath("R\xc3\xa9pertoire Supprim\xc3\xa9")
	viaPath, errDates := path.RestoreDates()
	if errDates != nil {
		t.Fatal(errDates)
	}
	if len(viaPath) != len(dates) {
		t.Errorf("Path.RestoreDates disagrees: %d vs %d", len(viaPath), len(dates))
	}
}

func TestRootRestoreDatesAreAllBackupDates(t *testing.T) {
	_, repo := fixtureRepo(t)
	root, _ := repo.GetPath("")
	dates, errDates := root.RestoreDates()
	if errDates != nil {
		t.Fatal(errDates)
	}
	if len(dates) != len(repo.BackupDates()) {
		t.Errorf("root restore dates: got %d want %d", len(dates), len(repo.BackupDates()))
	}
}
