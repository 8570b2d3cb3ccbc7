package bobsync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mmdatafocus/bobsync_backend/config"
	"github.com/mmdatafocus/bobsync_backend/models"
	"github.com/mmdatafocus/bobsync_backend/sheet"
	"github.com/mmdatafocus/bobsync_backend/utils"
)

// NewAPIClient builds a HiBob client from the stored credentials.
func NewAPIClient() (*bobClient, error) {
	creds, err := config.ResolveHiBobCredentials()
	if err != nil {
		return nil, &ConfigurationError{Msg: "not connected: " + err.Error()}
	}
	return newBobClient(creds)
}

// NewRowHandlerFactory wires the per-chunk row handler. Credentials are
// resolved fresh each chunk so a rotation mid-run takes effect.
func NewRowHandlerFactory(sheets sheet.Store) func(state *BatchState) (RowHandler, error) {
	return func(state *BatchState) (RowHandler, error) {
		client, err := NewAPIClient()
		if err != nil {
			return nil, err
		}
		index := &LookupIndex{Sheets: sheets}

		switch state.Kind {
		case models.BulkRunKindFieldUpdate:
			return &FieldUpdateHandler{
				API:   client,
				Index: index,
				Mapper: &ValueMapper{
					Index:       index,
					Sheets:      sheets,
					Creator:     client,
					AllowCreate: utils.EnvBoolDefault("BOB_SYNC_CREATE_LIST_ITEMS", false),
				},
				Verify: utils.EnvBoolDefault("BOB_VERIFY_WRITES", true),
			}, nil
		case models.BulkRunKindHistoryInsert:
			return &HistoryInsertHandler{API: client, Index: index}, nil
		default:
			return nil, &ConfigurationError{Msg: "unknown run kind " + state.Kind}
		}
	}
}

func StatusHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, credErr := config.ResolveHiBobCredentials()

		resp := StatusResponse{Connected: credErr == nil}
		state, active, err := orchestrator.ActiveState(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		if active {
			resp.ActiveBatch = &ActiveBatch{
				RunId:          state.RunId,
				Kind:           state.Kind,
				TargetPath:     state.TargetPath,
				HistoryTable:   state.HistoryTable,
				NextRowIndex:   state.NextRowIndex,
				TotalRows:      state.TotalRows,
				Totals:         state.Totals,
				StartedAt:      state.StartedAt.Format(time.RFC3339),
				LastProgressAt: state.LastProgressAt.Format(time.RFC3339),
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ConnectHandler verifies the credentials against the live API before
// persisting them; a bad token never replaces a working one.
func ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		client, err := newBobClient(config.HiBobCredentials{ServiceUserId: req.ServiceUserId, Token: req.Token})
		if err != nil {
			respondError(c, err)
			return
		}
		if _, err := client.FetchFields(c.Request.Context()); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "credential check failed: " + err.Error()})
			return
		}

		if err := config.StoreHiBobCredentials(req.ServiceUserId, req.Token); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"connected": true})
	}
}

func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := config.ClearHiBobCredentials(); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"connected": false})
	}
}

func RefreshHandler(sheets sheet.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, err := NewAPIClient()
		if err != nil {
			respondError(c, err)
			return
		}
		refresher := &Refresher{API: client, Sheets: sheets}

		target := c.Param("target")
		var count int
		switch target {
		case "fields":
			count, err = refresher.RefreshFields(c.Request.Context())
		case "lists":
			count, err = refresher.RefreshLists(c.Request.Context())
		case "roster":
			count, err = refresher.RefreshRoster(c.Request.Context())
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown refresh target " + target})
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"target": target, "rows": count})
	}
}

// ValidateHandler checks staged rows against the local reference sheets
// only: resolvable external ids, parseable values, resolvable list labels.
// Row statuses are written back; nothing goes over the network.
func ValidateHandler(sheets sheet.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StartBulkUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		index := &LookupIndex{Sheets: sheets}
		field, err := index.FieldByPath(req.FieldPath)
		if err != nil {
			respondError(c, err)
			return
		}
		if field.Calculated {
			c.JSON(http.StatusBadRequest, gin.H{"error": "field " + field.Path + " is calculated and cannot be written"})
			return
		}

		var labels map[string]string
		if isListField(field) {
			listName, err := ResolveListName(field, DefaultListResolvers())
			if err != nil {
				respondError(c, err)
				return
			}
			labels, err = index.ListLabelToId(listName)
			if err != nil {
				respondError(c, err)
				return
			}
		}
		idByExtern, err := index.ExternalToInternal()
		if err != nil {
			respondError(c, err)
			return
		}

		rows, err := sheets.ReadRows(SheetStaging)
		if err != nil {
			respondError(c, err)
			return
		}

		layout := sheetLayout{sheet: SheetStaging, dataCols: 1}
		type rowIssue struct {
			RowIndex int    `json:"rowIndex"`
			Problem  string `json:"problem"`
		}
		var issues []rowIssue
		checked := 0
		for rowIdx := 2; rowIdx <= lastDataRow(rows); rowIdx++ {
			row := parseStagedRow(rows, rowIdx, layout)
			checked++

			problem := ""
			switch {
			case row.ExternalId == "":
				problem = "missing external id"
			case idByExtern[row.ExternalId] == "":
				problem = "external id not in roster"
			case labels != nil && labels[row.RawValue] == "" && labels[strings.ToLower(row.RawValue)] == "":
				problem = "list label not found"
			}

			status, errText := RowStatusPending, ""
			if problem != "" {
				status, errText = RowStatusFailed, problem
				issues = append(issues, rowIssue{RowIndex: rowIdx, Problem: problem})
			}
			values := [][]string{{status, "", errText, ""}}
			if err := sheets.WriteRange(SheetStaging, rowIdx, layout.colStatus(), values); err != nil {
				respondError(c, &FatalInfrastructureError{Op: "write validation result", Err: err})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"checked": checked,
			"valid":   checked - len(issues),
			"issues":  issues,
		})
	}
}

func logRunStarted(c *gin.Context, run *models.BulkRun) {
	username, _ := utils.GetUsernameFromContext(c.Request.Context())
	config.GetLogger().WithFields(logrus.Fields{
		"field":    "bobsync",
		"run_id":   run.ID,
		"kind":     run.Kind,
		"username": username,
	}).Info("bulk run started")
}

func BulkUpdateHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StartBulkUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		run, err := orchestrator.StartRun(c.Request.Context(),
			models.BulkRunKindFieldUpdate, req.FieldPath, "",
			RunModeAll, models.BulkRunTriggeredManual, nil)
		if err != nil {
			respondError(c, err)
			return
		}
		logRunStarted(c, run)
		c.JSON(http.StatusAccepted, runResponse(run))
	}
}

func HistoryInsertStartHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		table, err := HistoryTableByName(c.Param("table"))
		if err != nil {
			respondError(c, err)
			return
		}

		run, err := orchestrator.StartRun(c.Request.Context(),
			models.BulkRunKindHistoryInsert, "", table.Name,
			RunModeAll, models.BulkRunTriggeredManual, nil)
		if err != nil {
			respondError(c, err)
			return
		}
		logRunStarted(c, run)
		c.JSON(http.StatusAccepted, runResponse(run))
	}
}

func CancelHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := orchestrator.Cancel(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		if run == nil {
			c.JSON(http.StatusOK, gin.H{"cancelled": true})
			return
		}
		c.JSON(http.StatusOK, runResponse(run))
	}
}

func RetryFailedHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := orchestrator.RetryFailed(c.Request.Context(), models.BulkRunTriggeredRetry)
		if err != nil {
			respondError(c, err)
			return
		}
		logRunStarted(c, run)
		c.JSON(http.StatusAccepted, runResponse(run))
	}
}

func RunsHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := utils.IntFromEnv("BOB_RUNS_PAGE_SIZE", 50)
		if q := c.Query("limit"); q != "" {
			if parsed, err := strconv.Atoi(q); err == nil && parsed > 0 && parsed <= 200 {
				limit = parsed
			}
		}

		var runs []models.BulkRun
		if err := db.Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
			respondError(c, &FatalInfrastructureError{Op: "list runs", Err: err})
			return
		}

		out := make([]RunResponse, 0, len(runs))
		for i := range runs {
			out = append(out, *runResponse(&runs[i]))
		}
		c.JSON(http.StatusOK, gin.H{"runs": out})
	}
}

func RunDetailHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		var run models.BulkRun
		if err := db.First(&run, uint(id)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
				return
			}
			respondError(c, &FatalInfrastructureError{Op: "load run", Err: err})
			return
		}

		var rowErrors []models.BulkRunError
		if err := db.Where("bulk_run_id = ?", run.ID).Order("row_index ASC").Find(&rowErrors).Error; err != nil {
			respondError(c, &FatalInfrastructureError{Op: "load run errors", Err: err})
			return
		}

		detail := RunDetailResponse{RunResponse: *runResponse(&run)}
		for _, e := range rowErrors {
			detail.Errors = append(detail.Errors, RunErrorResponse{
				ID:         e.ID,
				RowIndex:   e.RowIndex,
				ExternalId: e.ExternalId,
				HttpCode:   e.HttpCode,
				Message:    e.Message,
				Retryable:  e.Retryable,
			})
		}
		c.JSON(http.StatusOK, detail)
	}
}

func runResponse(run *models.BulkRun) *RunResponse {
	resp := &RunResponse{
		ID:           run.ID,
		Kind:         run.Kind,
		TargetPath:   run.TargetPath,
		HistoryTable: run.HistoryTable,
		Status:       run.Status,
		TriggeredBy:  run.TriggeredBy,
		TotalRows:    run.TotalRows,
		Completed:    run.Completed,
		Skipped:      run.Skipped,
		Failed:       run.Failed,
		DurationMs:   run.DurationMs,
	}
	if run.StartedAt != nil {
		s := run.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if run.FinishedAt != nil {
		s := run.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &s
	}
	return resp
}

// respondError maps the error taxonomy to HTTP statuses. Configuration
// problems are the caller's to fix; everything else is a server fault.
func respondError(c *gin.Context, err error) {
	var confErr *ConfigurationError
	if errors.As(err, &confErr) {
		status := http.StatusBadRequest
		if strings.Contains(confErr.Msg, "already active") {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": confErr.Error()})
		return
	}
	var lookupErr *LookupNotFoundError
	if errors.As(err, &lookupErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": lookupErr.Error()})
		return
	}
	config.GetLogger().WithError(err).Error("bobsync: request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
