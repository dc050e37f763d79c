package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/lecture-quiz/internal/common"
	"github.com/joseph-ayodele/lecture-quiz/internal/entity"
	"github.com/joseph-ayodele/lecture-quiz/internal/lectures"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lecturequiz.v1.LectureService"

type CreateJobRequest struct {
	SourceRef string `json:"sourceRef"`
	SizeBytes int64  `json:"sizeBytes"`
	Title     string `json:"title,omitempty"`
}

type JobRequest struct {
	JobID string `json:"jobId"`
}

type ListJobsRequest struct{}

type ListJobsResponse struct {
	Jobs []lectures.Video `json:"jobs"`
}

type GetSegmentsResponse struct {
	Segments []entity.Segment `json:"segments"`
}

type GetQuestionsRequest struct {
	SegmentID string `json:"segmentId"`
}

type GetQuestionsResponse struct {
	Questions []entity.Question `json:"questions"`
}

type EditQuestionRequest struct {
	QuestionID string          `json:"questionId"`
	Text       string          `json:"text"`
	Options    []entity.Option `json:"options"`
}

type ExportRequest struct {
	JobID  string `json:"jobId"`
	Format string `json:"format"`
}

type ExportResponse struct {
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// LectureServiceServer is the server API of ServiceName.
type LectureServiceServer interface {
	CreateJob(context.Context, *CreateJobRequest) (*entity.Job, error)
	GetStatus(context.Context, *JobRequest) (*entity.Status, error)
	CancelJob(context.Context, *JobRequest) (*entity.Status, error)
	ListJobs(context.Context, *ListJobsRequest) (*ListJobsResponse, error)
	GetSegments(context.Context, *JobRequest) (*GetSegmentsResponse, error)
	GetQuestions(context.Context, *GetQuestionsRequest) (*GetQuestionsResponse, error)
	EditQuestion(context.Context, *EditQuestionRequest) (*entity.Question, error)
	Export(context.Context, *ExportRequest) (*ExportResponse, error)
}

// LectureServer adapts lectures.Service to the RPC surface.
type LectureServer struct {
	svc    *lectures.Service
	logger *slog.Logger
}

func NewLectureServer(svc *lectures.Service, logger *slog.Logger) *LectureServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LectureServer{svc: svc, logger: logger}
}

func (s *LectureServer) CreateJob(ctx context.Context, req *CreateJobRequest) (*entity.Job, error) {
	job, err := s.svc.CreateJob(ctx, lectures.CreateJobRequest{SourceRef: req.SourceRef, SizeBytes: req.SizeBytes, Title: req.Title})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *LectureServer) GetStatus(ctx context.Context, req *JobRequest) (*entity.Status, error) {
	st, err := s.svc.GetStatus(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *LectureServer) CancelJob(ctx context.Context, req *JobRequest) (*entity.Status, error) {
	st, err := s.svc.Cancel(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *LectureServer) ListJobs(ctx context.Context, _ *ListJobsRequest) (*ListJobsResponse, error) {
	return &ListJobsResponse{Jobs: s.svc.ListVideos(ctx)}, nil
}

func (s *LectureServer) GetSegments(ctx context.Context, req *JobRequest) (*GetSegmentsResponse, error) {
	segs, err := s.svc.GetSegments(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	return &GetSegmentsResponse{Segments: segs}, nil
}

func (s *LectureServer) GetQuestions(ctx context.Context, req *GetQuestionsRequest) (*GetQuestionsResponse, error) {
	qs, err := s.svc.GetQuestions(ctx, req.SegmentID)
	if err != nil {
		return nil, err
	}
	return &GetQuestionsResponse{Questions: qs}, nil
}

func (s *LectureServer) EditQuestion(ctx context.Context, req *EditQuestionRequest) (*entity.Question, error) {
	q, err := s.svc.EditQuestion(ctx, lectures.EditQuestionRequest{QuestionID: req.QuestionID, Text: req.Text, Options: req.Options})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *LectureServer) Export(ctx context.Context, req *ExportRequest) (*ExportResponse, error) {
	b, ctype, err := s.svc.Export(ctx, req.JobID, req.Format)
	if err != nil {
		return nil, err
	}
	return &ExportResponse{ContentType: ctype, Data: b}, nil
}

// unary builds a method descriptor decoding Req and calling fn.
func unary[Req, Resp any](name string, fn func(LectureServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(LectureServiceServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes ServiceName for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LectureServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateJob", LectureServiceServer.CreateJob),
		unary("GetStatus", LectureServiceServer.GetStatus),
		unary("CancelJob", LectureServiceServer.CancelJob),
		unary("ListJobs", LectureServiceServer.ListJobs),
		unary("GetSegments", LectureServiceServer.GetSegments),
		unary("GetQuestions", LectureServiceServer.GetQuestions),
		unary("EditQuestion", LectureServiceServer.EditQuestion),
		unary("Export", LectureServiceServer.Export),
	},
	Metadata: "lecturequiz/v1/lecture.proto",
}

func RegisterLectureServiceServer(s grpc.ServiceRegistrar, srv LectureServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// UnaryInterceptor logs each call and maps domain errors onto status codes.
func UnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		rid := uuid.NewString()
		ctx = common.WithRequestID(ctx, rid)

		resp, err := handler(ctx, req)
		if err != nil {
			code := common.GRPCCode(err)
			logger.Warn("grpc.request.failed",
				"method", info.FullMethod,
				"request_id", rid,
				"code", code.String(),
				"error", err,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return nil, common.ToGRPC(err)
		}
		logger.Info("grpc.request",
			"method", info.FullMethod,
			"request_id", rid,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return resp, nil
	}
}

// NewGRPCServer builds a server with the lecture service and the standard
// health service registered. The returned health server reports SERVING.
func NewGRPCServer(svc *lectures.Service, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryInterceptor(logger)))
	RegisterLectureServiceServer(s, NewLectureServer(svc, logger))

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return s, hs
}

// LectureClient calls ServiceName with the JSON codec.
type LectureClient struct {
	cc grpc.ClientConnInterface
}

func NewLectureClient(cc grpc.ClientConnInterface) *LectureClient {
	return &LectureClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *LectureClient, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LectureClient) CreateJob(ctx context.Context, in *CreateJobRequest, opts ...grpc.CallOption) (*entity.Job, error) {
	return invoke[entity.Job](ctx, c, "CreateJob", in, opts...)
}

func (c *LectureClient) GetStatus(ctx context.Context, in *JobRequest, opts ...grpc.CallOption) (*entity.Status, error) {
	return invoke[entity.Status](ctx, c, "GetStatus", in, opts...)
}

func (c *LectureClient) CancelJob(ctx context.Context, in *JobRequest, opts ...grpc.CallOption) (*entity.Status, error) {
	return invoke[entity.Status](ctx, c, "CancelJob", in, opts...)
}

func (c *LectureClient) ListJobs(ctx context.Context, in *ListJobsRequest, opts ...grpc.CallOption) (*ListJobsResponse, error) {
	return invoke[ListJobsResponse](ctx, c, "ListJobs", in, opts...)
}

func (c *LectureClient) GetSegments(ctx context.Context, in *JobRequest, opts ...grpc.CallOption) (*GetSegmentsResponse, error) {
	return invoke[GetSegmentsResponse](ctx, c, "GetSegments", in, opts...)
}

func (c *LectureClient) GetQuestions(ctx context.Context, in *GetQuestionsRequest, opts ...grpc.CallOption) (*GetQuestionsResponse, error) {
	return invoke[GetQuestionsResponse](ctx, c, "GetQuestions", in, opts...)
}

func (c *LectureClient) EditQuestion(ctx context.Context, in *EditQuestionRequest, opts ...grpc.CallOption) (*entity.Question, error) {
	return invoke[entity.Question](ctx, c, "EditQuestion", in, opts...)
}

func (c *LectureClient) Export(ctx context.Context, in *ExportRequest, opts ...grpc.CallOption) (*ExportResponse, error) {
	return invoke[ExportResponse](ctx, c, "Export", in, opts...)
}
