package unitrt_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/unitrt"
	"github.com/GoCodeAlone/unitrt/bus"
	"github.com/GoCodeAlone/unitrt/config"
)

func TestFilter_Allows(t *testing.T) {
	busType := reflect.TypeFor[*bus.MemoryBus]()
	natsType := reflect.TypeFor[bus.NatsConfig]()
	treeType := reflect.TypeFor[*config.Tree]()
	loaderType := reflect.TypeFor[config.Loader]()
	frameworkType := reflect.TypeFor[*unitrt.ExecutorConfig]()

	tests := []struct {
		name                      string
		includeTypes, includePkgs []string
		excludeTypes, excludePkgs []string
		allowed                   map[reflect.Type]bool
	}{
		{
			name:        "package and sub-packages",
			includePkgs: []string{"github.com/GoCodeAlone/unitrt/bus"},
			allowed:     map[reflect.Type]bool{busType: true, natsType: true, treeType: false, frameworkType: true},
		},
		{
			name:        "package glob",
			includePkgs: []string{"github.com/GoCodeAlone/unitrt/*"},
			allowed:     map[reflect.Type]bool{busType: true, treeType: true},
		},
		{
			name:         "excluded type inside included package",
			includePkgs:  []string{"github.com/GoCodeAlone/unitrt/config"},
			excludeTypes: []string{"github.com/GoCodeAlone/unitrt/config.Loader"},
			allowed:      map[reflect.Type]bool{treeType: true, loaderType: false},
		},
		{
			name:         "included type outside included packages",
			includePkgs:  []string{"github.com/GoCodeAlone/unitrt/bus"},
			includeTypes: []string{"*.Tree"},
			allowed:      map[reflect.Type]bool{treeType: true, loaderType: false},
		},
		{
			name:        "excluded package",
			includePkgs: []string{"github.com/GoCodeAlone/unitrt/*"},
			excludePkgs: []string{"github.com/GoCodeAlone/unitrt/bus"},
			allowed:     map[reflect.Type]bool{busType: false, treeType: true},
		},
		{
			name:         "framework types can be excluded by type",
			excludeTypes: []string{"github.com/GoCodeAlone/unitrt.ExecutorConfig"},
			allowed:      map[reflect.Type]bool{frameworkType: false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := unitrt.NewFilter(tt.includeTypes, tt.includePkgs, tt.excludeTypes, tt.excludePkgs)
			require.NoError(t, err)
			for typ, want := range tt.allowed {
				assert.Equal(t, want, f.Allows(typ), typ.String())
			}
		})
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	_, err := unitrt.NewFilter([]string{"[unclosed"}, nil, nil, nil)
	require.ErrorIs(t, err, unitrt.ErrInvalidFilter)
}

func TestFilter_BootstrapAdmitsUnitConfigs(t *testing.T) {
	f := unitrt.BootstrapFilter()

	assert.True(t, f.Allows(reflect.TypeFor[*unitrt.Orchestrator]()))
	assert.True(t, f.Allows(reflect.TypeFor[alphaDeploy]()))
	assert.False(t, f.Allows(reflect.TypeFor[*alphaUnit]()))
	assert.False(t, f.Allows(reflect.TypeFor[*bus.MemoryBus]()))
}

func TestScanner_ExcludedTypesStayOutOfTheContext(t *testing.T) {
	catalog := unitrt.NewCatalog(
		deployRecorder(func() *alphaUnit { return &alphaUnit{} }, unitrt.UnitTag("alpha"),
			unitrt.ExcludeTypes("*.diskStore")),
		unitrt.Implements[Store](newDisk, unitrt.Named("disk")),
		unitrt.Implements[Store](newMem, unitrt.Named("mem")),
	)
	c := prepareContext(t, catalog, nil, "alpha")

	all, err := unitrt.ResolveAll[Store](c)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "memory", all[0].Kind())

	_, err = unitrt.ResolveNamed[Store](c, "disk")
	require.ErrorIs(t, err, unitrt.ErrBeanNotFound)
}
