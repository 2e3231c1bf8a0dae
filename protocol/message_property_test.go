package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// 属性: 任何合法消息序列化后再反序列化，得到语义等价的消息。
// 字符串内容覆盖引号、反斜杠与控制字符，转义由 encoding/json 保证。

// genMethodName 生成有效的方法名
func genMethodName() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		MethodInitialize, MethodResourcesList, MethodResourcesRead,
		MethodToolsList, MethodToolsCall, MethodPing, MethodShutdown,
	})
}

// genMessageID 生成数字或字符串 ID（字符串含任意 Unicode 与控制字符）
func genMessageID() *rapid.Generator[MessageID] {
	return rapid.Custom(func(t *rapid.T) MessageID {
		if rapid.Bool().Draw(t, "numericID") {
			return NewIntID(rapid.Int64Range(1, 1<<40).Draw(t, "intID"))
		}
		return NewStringID(rapid.String().Draw(t, "stringID"))
	})
}

// genParams 生成含有需要转义字符的参数对象
func genParams() *rapid.Generator[map[string]any] {
	return rapid.Custom(func(t *rapid.T) map[string]any {
		numKeys := rapid.IntRange(0, 5).Draw(t, "numKeys")
		m := make(map[string]any)
		for i := 0; i < numKeys; i++ {
			key := rapid.StringMatching(`[a-z][a-z_]{0,10}`).Draw(t, "paramKey")
			// 任意字符串：包含 " \ 换行与控制字符的情况都要存活
			m[key] = rapid.String().Draw(t, "paramValue")
		}
		return m
	})
}

func TestRequestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		method := genMethodName().Draw(t, "method")
		id := genMessageID().Draw(t, "id")
		params := genParams().Draw(t, "params")

		msg, err := NewRequest(method, params, id)
		require.NoError(t, err)

		data, err := msg.Serialize()
		require.NoError(t, err)

		// 序列化结果必须是单行（换行分帧的前提）
		for _, b := range data {
			assert.NotEqual(t, byte('\n'), b, "serialized message must not contain raw newlines")
		}

		decoded, err := Deserialize(data)
		require.NoError(t, err)

		assert.Equal(t, TypeRequest, decoded.Type())
		assert.Equal(t, method, decoded.Method)
		assert.True(t, decoded.ID.Equal(id), "id must survive the round trip byte for byte")

		var gotParams map[string]any
		if len(params) > 0 {
			require.NoError(t, decoded.UnmarshalParams(&gotParams))
			assert.Equal(t, len(params), len(gotParams))
			for k, v := range params {
				assert.Equal(t, v, gotParams[k])
			}
		}
	})
}

func TestResponseRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := genMessageID().Draw(t, "id")
		payload := genParams().Draw(t, "payload")

		msg, err := NewResponse(payload, id)
		require.NoError(t, err)

		data, err := msg.Serialize()
		require.NoError(t, err)

		decoded, err := Deserialize(data)
		require.NoError(t, err)

		assert.Equal(t, TypeResponse, decoded.Type())
		assert.True(t, decoded.ID.Equal(id))
		assert.False(t, decoded.IsError())
	})
}

func TestErrorRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := genMessageID().Draw(t, "id")
		code := rapid.SampledFrom([]int{
			CodeParseError, CodeInvalidRequest, CodeMethodNotFound,
			CodeInvalidParams, CodeInternalError,
			CodeResourceNotFound, CodeToolNotFound,
			CodeInvalidToolInput, CodeResourceAccessDenied, CodeAuthRequired,
		}).Draw(t, "code")
		message := rapid.String().Draw(t, "message")

		msg := NewError(code, message, id, nil)

		data, err := msg.Serialize()
		require.NoError(t, err)

		decoded, err := Deserialize(data)
		require.NoError(t, err)

		assert.Equal(t, TypeError, decoded.Type())
		require.NotNil(t, decoded.Error)
		assert.Equal(t, code, decoded.Error.Code)
		assert.Equal(t, message, decoded.Error.Message)
	})
}

// 属性: ID 的原始字节表示在任意次编解码后保持不变
func TestMessageIDByteStability(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := genMessageID().Draw(t, "id")

		first, err := json.Marshal(id)
		require.NoError(t, err)

		var decoded MessageID
		require.NoError(t, json.Unmarshal(first, &decoded))

		second, err := json.Marshal(decoded)
		require.NoError(t, err)

		assert.Equal(t, string(first), string(second))
	})
}
