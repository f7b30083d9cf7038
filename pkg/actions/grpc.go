package actions

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/golang/protobuf/proto" //nolint:staticcheck // protoreflect v1 API
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/farmanp/turbulence/pkg/apperror"
	"github.com/farmanp/turbulence/pkg/logger"
	"github.com/farmanp/turbulence/pkg/models"
	"github.com/farmanp/turbulence/pkg/scenario"
	"github.com/farmanp/turbulence/pkg/sut"
)

// descriptorCache кэширует дескрипторы сервисов, полученные через
// reflection, по адресу сервиса. Повторное разрешение на каждый вызов
// было бы лишним круговым обменом с сервером.
type descriptorCache struct {
	mu       sync.Mutex
	services map[string]*desc.ServiceDescriptor
}

var descriptors = &descriptorCache{services: make(map[string]*desc.ServiceDescriptor)}

func (c *descriptorCache) resolve(ctx context.Context, conn *grpc.ClientConn, target, serviceName string) (*desc.ServiceDescriptor, error) {
	key := target + "/" + serviceName

	c.mu.Lock()
	if sd, ok := c.services[key]; ok {
		c.mu.Unlock()
		return sd, nil
	}
	c.mu.Unlock()

	refl := grpcreflect.NewClientAuto(ctx, conn)
	defer refl.Reset()

	sd, err := refl.ResolveService(serviceName)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeReflectionError,
			"failed to resolve gRPC service '"+serviceName+"' via reflection, ensure reflection is enabled on the server")
	}

	c.mu.Lock()
	c.services[key] = sd
	c.mu.Unlock()

	return sd, nil
}

// GRPCRunner выполняет унарный gRPC вызов. Дескрипторы сервиса
// разрешаются через server reflection, сообщения строятся динамически.
type GRPCRunner struct {
	action  *scenario.GRPCAction
	sut     *sut.Config
	channel *grpc.ClientConn
}

// NewGRPCRunner создаёт gRPC раннер
func NewGRPCRunner(action *scenario.GRPCAction, sutConfig *sut.Config, channel *grpc.ClientConn) *GRPCRunner {
	return &GRPCRunner{action: action, sut: sutConfig, channel: channel}
}

// Execute выполняет вызов и извлекает значения из ответа
func (r *GRPCRunner) Execute(ctx context.Context, wfContext map[string]any) (Result, error) {
	start := time.Now()

	obs := models.Observation{
		Protocol:   "grpc",
		ActionName: r.action.Name,
		Service:    r.action.Service,
	}

	service, err := r.sut.GetService(r.action.Service)
	if err != nil {
		obs.AddError(err.Error())
		obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return Result{Observation: obs, Context: wfContext}, nil
	}
	if service.Protocol != sut.ProtocolGRPC || service.GRPC == nil {
		obs.AddError("service '" + r.action.Service + "' is not configured for gRPC")
		obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return Result{Observation: obs, Context: wfContext}, nil
	}
	if r.channel == nil {
		obs.AddError("no gRPC channel available for service '" + r.action.Service + "'")
		obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return Result{Observation: obs, Context: wfContext}, nil
	}

	obs.Metadata = map[string]any{
		"host":   service.GRPC.Host,
		"port":   service.GRPC.Port,
		"method": r.action.Method,
	}

	serviceName, methodName, ok := splitMethod(r.action.Method)
	if !ok {
		obs.AddError("invalid gRPC method format '" + r.action.Method + "', expected 'Package.Service/Method'")
		obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return Result{Observation: obs, Context: wfContext}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, service.Timeout())
	defer cancel()

	sd, err := descriptors.resolve(callCtx, r.channel, service.Address(), serviceName)
	if err != nil {
		obs.AddError(err.Error())
		obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return Result{Observation: obs, Context: wfContext}, nil
	}

	md := sd.FindMethodByName(methodName)
	if md == nil {
		obs.AddError("method '" + methodName + "' not found in service '" + serviceName + "'")
		obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		return Result{Observation: obs, Context: wfContext}, nil
	}

	// Собираем запрос из уже отрендеренного JSON тела
	request := dynamic.NewMessage(md.GetInputType())
	if len(r.action.Body) > 0 {
		raw, err := json.Marshal(r.action.Body)
		if err != nil {
			obs.AddError("cannot encode request body: " + err.Error())
			obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
			return Result{Observation: obs, Context: wfContext}, nil
		}
		if err := request.UnmarshalJSON(raw); err != nil {
			obs.AddError("request body does not match '" + md.GetInputType().GetFullyQualifiedName() + "': " + err.Error())
			obs.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
			return Result{Observation: obs, Context: wfContext}, nil
		}
	}

	callCtx = metadata.NewOutgoingContext(callCtx, r.callMetadata())

	stub := grpcdynamic.NewStub(r.channel)
	response, err := stub.InvokeRpc(callCtx, md, request)
	latency := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		st, _ := status.FromError(err)
		obs.StatusCode = models.IntPtr(int(st.Code()))
		obs.LatencyMs = latency
		obs.AddError(apperror.FromGRPC(err).Error())
		return Result{Observation: obs, Context: wfContext}, nil
	}

	responseMap, err := messageToMap(response)
	if err != nil {
		obs.AddError("cannot decode response: " + err.Error())
		obs.LatencyMs = latency
		return Result{Observation: obs, Context: wfContext}, nil
	}

	obs.OK = true
	obs.StatusCode = models.IntPtr(0) // codes.OK
	obs.Body = responseMap
	obs.Headers = map[string]string{}
	obs.LatencyMs = latency

	updated := wfContext
	if len(r.action.Extract) > 0 {
		extracted, extractErr := extractValues(r.action.Extract, responseMap)
		if extractErr != nil {
			obs.AddError(extractErr.Error())
		} else {
			updated = cloneContext(wfContext)
			for k, v := range extracted {
				updated[k] = v
			}
		}
	}

	logger.Log.Debug("Executed gRPC call",
		"action", r.action.Name, "method", r.action.Method, "latency_ms", latency)

	return Result{Observation: obs, Context: updated}, nil
}

// callMetadata собирает метаданные вызова из действия и заголовков SUT
func (r *GRPCRunner) callMetadata() metadata.MD {
	md := metadata.MD{}
	for k, v := range r.action.Metadata {
		md.Append(strings.ToLower(k), v)
	}
	// Корреляционный заголовок SUT пробрасывается в метаданные
	if cid, ok := r.sut.DefaultHeaders["X-Correlation-ID"]; ok {
		md.Append("x-correlation-id", cid)
	}
	return md
}

func splitMethod(method string) (string, string, bool) {
	idx := strings.Index(method, "/")
	if idx <= 0 || idx == len(method)-1 {
		return "", "", false
	}
	return method[:idx], method[idx+1:], true
}

// messageToMap конвертирует protobuf ответ в JSON-эквивалентную мапу
func messageToMap(msg proto.Message) (map[string]any, error) {
	dyn, err := dynamic.AsDynamicMessage(msg)
	if err != nil {
		return nil, err
	}

	raw, err := dyn.MarshalJSON()
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
