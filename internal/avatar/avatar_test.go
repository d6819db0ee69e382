package avatar_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/phonebook/internal/apierr"
	"github.com/HerbHall/phonebook/internal/avatar"
	"github.com/HerbHall/phonebook/internal/services"
	"github.com/HerbHall/phonebook/internal/testutil"
	"github.com/HerbHall/phonebook/pkg/models"
	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pngData(size int) []byte {
	b := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, size)...)
	return b[:size]
}

func jpegData(size int) []byte {
	b := append([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), bytes.Repeat([]byte{0}, size)...)
	return b[:size]
}

type fixture struct {
	fs      afero.Fs
	repo    *services.SQLiteContactRepository
	clk     *clock.Mock
	manager *avatar.Manager
	contact models.Contact
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		fs:   afero.NewMemMapFs(),
		repo: testutil.NewContactRepo(t),
		clk:  testutil.NewClock(),
	}
	f.contact = testutil.NewContact(testutil.WithName("Ada Lovelace"))
	require.NoError(t, f.repo.Create(context.Background(), &f.contact))
	f.manager = avatar.NewManager(f.fs, f.repo, avatar.Config{
		Dir:        "public/avatars",
		PublicPath: "/avatars",
	}, zap.NewNop(), avatar.WithClock(f.clk))
	return f
}

func TestUpload_StoresAndLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref, err := f.manager.Upload(ctx, f.contact.ID, avatar.File{
		Name:        "me.png",
		ContentType: "image/png",
		Data:        pngData(1024),
	})
	require.NoError(t, err)

	want := "/avatars/avatar_" + f.contact.ID + "_" + "1735689600000" + ".png"
	assert.Equal(t, want, ref)

	exists, err := afero.Exists(f.fs, "public/avatars/avatar_"+f.contact.ID+"_1735689600000.png")
	require.NoError(t, err)
	assert.True(t, exists, "avatar file not written")

	got, err := f.repo.Get(ctx, f.contact.ID)
	require.NoError(t, err)
	assert.Equal(t, ref, got.AvatarRef())
}

func TestUpload_ReplacesPreviousAvatar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.Upload(ctx, f.contact.ID, avatar.File{Name: "a.png", ContentType: "image/png", Data: pngData(512)})
	require.NoError(t, err)

	second, err := f.manager.Upload(ctx, f.contact.ID, avatar.File{Name: "b.jpg", ContentType: "image/jpeg", Data: jpegData(500 << 10)})
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "same clock reading must still yield distinct names")
	assert.True(t, strings.HasSuffix(second, ".jpg"))

	oldExists, _ := afero.Exists(f.fs, "public/avatars/"+strings.TrimPrefix(first, "/avatars/"))
	assert.False(t, oldExists, "previous avatar not removed")
	newExists, _ := afero.Exists(f.fs, "public/avatars/"+strings.TrimPrefix(second, "/avatars/"))
	assert.True(t, newExists)

	got, err := f.repo.Get(ctx, f.contact.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got.AvatarRef())
}

func TestUpload_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		id      string
		file    avatar.File
		wantErr error
	}{
		{"missing file", f.contact.ID, avatar.File{Name: "a.png"}, apierr.ErrValidation},
		{"missing id", "", avatar.File{Name: "a.png", Data: pngData(64)}, apierr.ErrValidation},
		{"unknown contact", "6f1c1b8e-7a0e-4c38-9a49-4d1c1ad0a001", avatar.File{Name: "a.png", Data: pngData(64)}, apierr.ErrNotFound},
		{"malformed id", "not-a-uuid", avatar.File{Name: "a.png", Data: pngData(64)}, apierr.ErrValidation},
		{"declared gif", f.contact.ID, avatar.File{Name: "a.gif", ContentType: "image/gif", Data: pngData(64)}, apierr.ErrUnsupportedMediaType},
		{"text content", f.contact.ID, avatar.File{Name: "a.png", ContentType: "image/png", Data: []byte("hello, world")}, apierr.ErrUnsupportedMediaType},
		{"bad extension", f.contact.ID, avatar.File{Name: "a.exe", ContentType: "image/png", Data: pngData(64)}, apierr.ErrUnsupportedMediaType},
		{"too large", f.contact.ID, avatar.File{Name: "big.png", ContentType: "image/png", Data: pngData(3 << 20)}, apierr.ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Upload(ctx, tt.id, tt.file)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	got, err := f.repo.Get(ctx, f.contact.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Avatar, "rejected uploads must not touch the record")
	exists, _ := afero.DirExists(f.fs, "public/avatars")
	assert.False(t, exists, "rejected uploads must not create files")
}

func TestUpload_ExtensionFromContent(t *testing.T) {
	f := newFixture(t)
	ref, err := f.manager.Upload(context.Background(), f.contact.ID, avatar.File{Name: "blob", Data: jpegData(128)})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ref, ".jpg"), "ref = %s", ref)
}

type failingLinker struct {
	*services.SQLiteContactRepository
}

func (failingLinker) SwapAvatar(context.Context, string, *string) (string, error) {
	return "", errors.New("disk I/O error")
}

func TestUpload_LinkFailureRemovesFile(t *testing.T) {
	f := newFixture(t)
	m := avatar.NewManager(f.fs, failingLinker{f.repo}, avatar.Config{Dir: "public/avatars"}, zap.NewNop(), avatar.WithClock(f.clk))

	_, err := m.Upload(context.Background(), f.contact.ID, avatar.File{Name: "a.png", Data: pngData(64)})
	require.ErrorIs(t, err, apierr.ErrStorage)

	files, err := afero.ReadDir(f.fs, "public/avatars")
	require.NoError(t, err)
	assert.Empty(t, files, "orphaned file left behind")
}

func TestUpload_WriteFailure(t *testing.T) {
	f := newFixture(t)
	m := avatar.NewManager(afero.NewReadOnlyFs(f.fs), f.repo, avatar.Config{Dir: "public/avatars"}, zap.NewNop())

	_, err := m.Upload(context.Background(), f.contact.ID, avatar.File{Name: "a.png", Data: pngData(64)})
	require.ErrorIs(t, err, apierr.ErrStorage)

	got, err := f.repo.Get(context.Background(), f.contact.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Avatar)
}

func TestUpload_TokensIncreaseWithTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.manager.Upload(ctx, f.contact.ID, avatar.File{Name: "a.png", Data: pngData(64)})
	require.NoError(t, err)
	f.clk.Add(5 * time.Second)
	b, err := f.manager.Upload(ctx, f.contact.ID, avatar.File{Name: "b.png", Data: pngData(64)})
	require.NoError(t, err)

	assert.Contains(t, a, "_1735689600000.png")
	assert.Contains(t, b, "_1735689605000.png")
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(f.fs, "public/avatars/avatar_x_1.png", []byte("x"), 0o644))

	require.NoError(t, f.manager.Remove(ctx, "/avatars/avatar_x_1.png"))
	exists, _ := afero.Exists(f.fs, "public/avatars/avatar_x_1.png")
	assert.False(t, exists)

	assert.NoError(t, f.manager.Remove(ctx, "/avatars/avatar_x_1.png"), "removing a missing file")
	assert.Error(t, f.manager.Remove(ctx, "/elsewhere/avatar_x_1.png"))
	assert.Error(t, f.manager.Remove(ctx, "/avatars/../secret.db"))
}

func TestFS_ServesAvatarDir(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, afero.WriteFile(f.fs, "public/avatars/avatar_x_1.png", []byte("img"), 0o644))

	data, err := afero.ReadFile(f.manager.FS(), "avatar_x_1.png")
	require.NoError(t, err)
	assert.Equal(t, "img", string(data))
}
