package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tuning struct {
	Name      string   `json:"name" validate:"notblank"`
	Threshold float64  `json:"similarity_threshold" validate:"gte=0,lte=1"`
	Chunks    *int     `json:"max_context_chunks" binding:"omitempty,gte=1"`
	Temp      *float64 `json:"temperature" binding:"omitempty,gte=0,lte=2"`
}

func TestGlobal(t *testing.T) {
	assert.Same(t, Global(), Global())
	assert.Same(t, Binding(), Binding())
	assert.NotSame(t, Global(), Binding())
	assert.Len(t, Global().trans, 4)
}

func TestValidateWithLang(t *testing.T) {
	tests := []struct {
		name      string
		value     tuning
		wantField []string
	}{
		{"合法", tuning{Name: "acme", Threshold: 0.7}, nil},
		{"边界值", tuning{Name: "acme", Threshold: 1}, nil},
		{"阈值越界", tuning{Name: "acme", Threshold: 1.5}, []string{"similarity_threshold"}},
		{"名称为空白", tuning{Name: "   ", Threshold: 0.5}, []string{"name"}},
		{"多个错误", tuning{Name: "", Threshold: -1}, []string{"name", "similarity_threshold"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := Global().ValidateWithLang(tt.value, LangEN)
			if tt.wantField == nil {
				assert.False(t, verr.HasErrors(), "%v", verr)
				return
			}
			require.True(t, verr.HasErrors())
			var fields []string
			for _, fe := range verr.Errors {
				fields = append(fields, fe.Field)
			}
			assert.Equal(t, tt.wantField, fields)
		})
	}
}

func TestTranslate_Languages(t *testing.T) {
	value := tuning{Name: "acme", Threshold: 1.5}
	en := Global().ValidateWithLang(value, "en-US")
	pt := Global().ValidateWithLang(value, "pt-BR")
	fallback := Global().ValidateWithLang(value, "ja")

	require.True(t, en.HasErrors())
	require.True(t, pt.HasErrors())
	assert.Contains(t, en.First(), "similarity_threshold")
	assert.Contains(t, pt.First(), "similarity_threshold")
	assert.NotEqual(t, en.First(), pt.First())
	assert.Equal(t, en.First(), fallback.First(), "未知语言回退到英文")

	blank := Global().ValidateWithLang(tuning{Name: " ", Threshold: 0}, LangPT)
	assert.Equal(t, "name não pode estar em branco", blank.First())
}

func TestTranslate_ForeignError(t *testing.T) {
	assert.Nil(t, Global().Translate(nil, LangEN))
	assert.Nil(t, Global().Translate(errors.New("boom"), LangEN))
}

func TestBinding_ReadsBindingTags(t *testing.T) {
	zero := 0
	hot := 3.0
	ok := 1

	verr := Binding().ValidateWithLang(tuning{Chunks: &zero, Temp: &hot}, LangEN)
	require.True(t, verr.HasErrors())
	assert.Len(t, verr.ForField("max_context_chunks"), 1)
	assert.Len(t, verr.ForField("temperature"), 1)
	assert.Empty(t, verr.ForField("name"), "binding 引擎不读取 validate 标签")

	assert.False(t, Binding().ValidateWithLang(tuning{Chunks: &ok}, LangEN).HasErrors())
	assert.False(t, Binding().ValidateWithLang(tuning{}, LangEN).HasErrors(), "省略的字段不校验")
}

func TestGinValidator(t *testing.T) {
	g := NewGinValidator(Binding())
	zero := 0

	assert.Error(t, g.ValidateStruct(&tuning{Chunks: &zero}))
	assert.NoError(t, g.ValidateStruct(&tuning{}))
	assert.NoError(t, g.ValidateStruct(map[string]any{"x": 1}))
	assert.NoError(t, g.ValidateStruct(nil))
	var nilPtr *tuning
	assert.NoError(t, g.ValidateStruct(nilPtr))
	assert.NotNil(t, g.Engine())
}

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(tuning{Name: "acme"}))
	err := Struct(tuning{Name: "acme", Threshold: 2})
	var verr *ValidationErrors
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, err.Error(), "validation failed: ")
	assert.Equal(t, "similarity_threshold", verr.Errors[0].Field)
}
