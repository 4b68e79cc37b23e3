package mode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-overlay/model"
	"github.com/khaledhikmat/vs-overlay/service/config"
	"github.com/khaledhikmat/vs-overlay/service/data"
)

func TestExcludeAndInclude(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "vs.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("[paths]\ninput_folder = %q\n", dir)), 0o644))
	cfgSvc, err := config.NewToml(cfgPath)
	require.NoError(t, err)

	cameras, err := json.Marshal([]model.Camera{{ID: "100", Name: "lobby"}, {ID: "200", Name: "garage"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgSvc.GetCamerasInputFile(), cameras, 0o644))

	dataSvc := data.NewFilesDB(cfgSvc)

	require.NoError(t, Exclude(dataSvc, true, "100", "200"))
	orphans, err := dataSvc.RetrieveOrphanedCameras(10)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	require.NoError(t, Exclude(dataSvc, false, "200"))
	orphans, err = dataSvc.RetrieveOrphanedCameras(10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "200", orphans[0].ID)

	assert.Error(t, Exclude(dataSvc, true, "999"))
}
