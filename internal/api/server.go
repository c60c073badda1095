package api

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/labstack/echo/v5"
	"github.com/samcharles93/cutotune/internal/kernels"
	"github.com/samcharles93/cutotune/internal/logger"
	"github.com/samcharles93/cutotune/internal/tensor"
)

// Server exposes the tuning cache of a kernel set over HTTP.
type Server struct {
	kernels *kernels.Set
	log     logger.Logger
}

func NewServer(set *kernels.Set, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{kernels: set, log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.Use(requestID)

	e.GET("/v1/operations", s.handleListOperations)
	e.GET("/v1/operations/:id", s.handleGetOperation)
	e.GET("/v1/operations/:id/best", s.handleBestConfigs)
	e.POST("/v1/tune/:kernel", s.handleTune)
	e.POST("/v1/cache/save", s.handleSaveCache)
}

func (s *Server) handleListOperations(c *echo.Context) error {
	cache := s.kernels.Cache()
	byID := make(map[string]*OperationSummary)
	var order []string
	for _, op := range cache.Operations() {
		byID[op.Identity] = &OperationSummary{
			ID:     op.Identity,
			Object: "operation",
			Name:   op.Name,
			Keys:   len(op.Keys),
			Trials: op.Trials,
		}
		order = append(order, op.Identity)
	}
	for _, op := range s.kernels.Operations() {
		sum, ok := byID[op.Identity()]
		if !ok {
			sum = &OperationSummary{ID: op.Identity(), Object: "operation", Name: op.Name()}
			byID[op.Identity()] = sum
			order = append(order, op.Identity())
		}
		sum.Resident = true
		sum.Sweeps = op.Sweeps()
	}

	list := OperationList{Object: "list", Data: make([]OperationSummary, 0, len(order))}
	for _, id := range order {
		list.Data = append(list.Data, *byID[id])
	}
	slices.SortStableFunc(list.Data, func(a, b OperationSummary) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return writeJSON(c, http.StatusOK, list)
}

// resolve accepts an operation identity or a kernel name.
func (s *Server) resolve(ref string) (id, name string, op kernels.Operation, err error) {
	if op, ok := s.kernels.Operation(ref); ok {
		return op.Identity(), op.Name(), op, nil
	}
	if name := s.kernels.Cache().Name(ref); name != "" {
		return ref, name, nil, nil
	}
	return "", "", nil, notFoundError{what: "operation", ref: ref}
}

func (s *Server) handleGetOperation(c *echo.Context) error {
	id, name, op, err := s.resolve(c.Param("id"))
	if err != nil {
		return writeNotFound(c, err.Error())
	}
	cache := s.kernels.Cache()
	detail := OperationDetail{ID: id, Object: "operation", Name: name, Keys: []KeyTrials{}}
	if op != nil {
		detail.Signature = op.Signature().String()
		detail.Tunables = op.Tunables()
		detail.Configs = len(op.Configs())
	}
	for _, key := range sortedKeys(cache.BestConfigs(id)) {
		trials := cache.Trials(id, key)
		kt := KeyTrials{Key: string(key), Trials: make([]TrialResp, 0, len(trials))}
		for _, t := range trials {
			kt.Trials = append(kt.Trials, trialResp(t))
		}
		detail.Keys = append(detail.Keys, kt)
	}
	return writeJSON(c, http.StatusOK, detail)
}

func (s *Server) handleBestConfigs(c *echo.Context) error {
	id, name, op, err := s.resolve(c.Param("id"))
	if err != nil {
		return writeNotFound(c, err.Error())
	}
	best := s.kernels.Cache().BestConfigs(id)
	// In-memory selections win over cached trials for keys tuned this run.
	if op != nil {
		for key, t := range op.BestConfigs() {
			best[key] = t
		}
	}
	resp := BestConfigsResp{ID: id, Object: "best_configs", Name: name, Data: []BestEntry{}}
	for _, key := range sortedKeys(best) {
		resp.Data = append(resp.Data, BestEntry{Key: string(key), TrialResp: trialResp(best[key])})
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleTune(c *echo.Context) error {
	kernel := c.Param("kernel")
	if _, ok := s.kernels.Operation(kernel); !ok {
		return writeNotFound(c, notFoundError{what: "kernel", ref: kernel}.Error())
	}
	req, err := decodeJSON[TuneReq](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	problem, err := toProblem(kernel, req)
	if err != nil {
		return writeTuneError(c, err)
	}

	res, err := s.kernels.Tune(c.Request().Context(), kernel, problem)
	if err != nil {
		s.log.Warn("tune failed", "kernel", kernel, "problem", problem.String(), "error", err)
		return writeTuneError(c, err)
	}
	s.log.Info("tune", "kernel", kernel, "key", string(res.Key), "swept", res.Swept)
	return writeJSON(c, http.StatusOK, TuneResp{
		Object:      "tune_result",
		Op:          res.Op,
		Key:         string(res.Key),
		Config:      configValues(res.Config),
		TimeSeconds: res.Time.Seconds(),
		Swept:       res.Swept,
	})
}

func toProblem(kernel string, req TuneReq) (kernels.Problem, error) {
	dtype := tensor.F32
	if req.DType != "" {
		var err error
		if dtype, err = tensor.ParseDType(req.DType); err != nil {
			return kernels.Problem{}, newInvalidRequest(err.Error())
		}
	}
	if len(req.Shape) == 0 {
		return kernels.Problem{}, newInvalidRequest("shape is required")
	}
	if kernel == "gemm" && len(req.Shape) != 3 {
		return kernels.Problem{}, newInvalidRequest(fmt.Sprintf("shape: gemm takes (M, K, N), got %v", []int(req.Shape)))
	}
	for _, d := range req.Shape {
		if d <= 0 {
			return kernels.Problem{}, newInvalidRequest(fmt.Sprintf("shape: extents must be positive, got %v", []int(req.Shape)))
		}
	}
	return kernels.Problem{DType: dtype, Shape: req.Shape}, nil
}

func (s *Server) handleSaveCache(c *echo.Context) error {
	cache := s.kernels.Cache()
	if err := cache.Save(); err != nil {
		s.log.Error("cache save failed", "path", cache.Path(), "error", err)
		return writeTuneError(c, err)
	}
	s.log.Info("cache saved", "path", cache.Path(), "trials", cache.Len())
	return writeJSON(c, http.StatusOK, SaveResp{Object: "cache", Path: cache.Path(), Trials: cache.Len()})
}
