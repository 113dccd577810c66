package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSSMClient struct {
	mock.Mock
}

func (m *mockSSMClient) GetParameters(ctx context.Context, params *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*ssm.GetParametersOutput)
	return out, args.Error(1)
}

func echoParameters(names []string) *ssm.GetParametersOutput {
	out := &ssm.GetParametersOutput{}
	for _, n := range names {
		out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(n), Value: aws.String("v:" + n)})
	}
	return out
}

func TestSSMProvider_BatchesByTen(t *testing.T) {
	keys := make([]string, 23)
	for i := range keys {
		keys[i] = fmt.Sprintf("/prod/farmconnect/k%02d", i)
	}

	client := &mockSSMClient{}
	for _, chunk := range [][]string{keys[0:10], keys[10:20], keys[20:23]} {
		client.On("GetParameters", mock.Anything, mock.MatchedBy(func(in *ssm.GetParametersInput) bool {
			return assert.ObjectsAreEqual(chunk, in.Names) && aws.ToBool(in.WithDecryption)
		})).Return(echoParameters(chunk), nil).Once()
	}

	p := newSSMProviderWithClient("af-south-1", client)
	got, err := p.GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)

	assert.Len(t, got, 23)
	assert.Equal(t, "v:/prod/farmconnect/k22", got["/prod/farmconnect/k22"])
	client.AssertExpectations(t)
}

func TestSSMProvider_InvalidParametersFail(t *testing.T) {
	client := &mockSSMClient{}
	client.On("GetParameters", mock.Anything, mock.Anything).
		Return(&ssm.GetParametersOutput{InvalidParameters: []string{"/prod/missing"}}, nil)

	_, err := newSSMProviderWithClient("af-south-1", client).GetParametersBatch(context.Background(), []string{"/prod/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/prod/missing")
}

func TestSSMProvider_ClientError(t *testing.T) {
	client := &mockSSMClient{}
	client.On("GetParameters", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	_, err := newSSMProviderWithClient("af-south-1", client).GetParametersBatch(context.Background(), []string{"/a"})
	assert.ErrorContains(t, err, "throttled")
}

func TestSSMProvider_CancelledContext(t *testing.T) {
	client := &mockSSMClient{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newSSMProviderWithClient("af-south-1", client).GetParametersBatch(ctx, []string{"/a"})
	assert.ErrorIs(t, err, context.Canceled)
	client.AssertNotCalled(t, "GetParameters", mock.Anything, mock.Anything)
}

func TestSSMProvider_EmptyKeys(t *testing.T) {
	got, err := NewSSMProvider("af-south-1", "").GetParametersBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestEnvVarProvider(t *testing.T) {
	t.Setenv("FARM_TEST_PRESENT", "yes")
	t.Setenv("FARM_TEST_EMPTY", "")

	var p SecretProvider = NewEnvVarProvider()
	got, err := p.GetParametersBatch(context.Background(), []string{"FARM_TEST_PRESENT", "FARM_TEST_EMPTY", "FARM_TEST_ABSENT_XYZ"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"FARM_TEST_PRESENT": "yes", "FARM_TEST_EMPTY": ""}, got)
}
