package app

import (
	"context"
	"errors"

	"deathmatter/pkg/ai"
	"deathmatter/pkg/ids"
	"deathmatter/pkg/uistream"
)

const updateDocumentTool = "updateDocument"

var errToolDocumentNotFound = errors.New("Document not found")

const updateDocumentDescription = "Update the obituary document with revised content based on the user's request"

type updateDocumentInput struct {
	DocumentID        string `json:"documentId" jsonschema:"description=The ID of the document to update" validate:"required,entityid"`
	RevisedContent    string `json:"revisedContent" jsonschema:"description=The complete revised content of the obituary document" validate:"required"`
	ChangeDescription string `json:"changeDescription" jsonschema:"description=Brief description of what changes were made" validate:"required"`
}

// reviseDocumentInput is used when the document is fixed by the route.
type reviseDocumentInput struct {
	RevisedContent    string `json:"revisedContent" jsonschema:"description=The complete revised content of the obituary document" validate:"required"`
	ChangeDescription string `json:"changeDescription" jsonschema:"description=Brief description of what changes were made" validate:"required"`
}

type updateDocumentOutput struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	DocumentID string `json:"documentId"`
}

// DocumentUpdateEvent is the payload of data-updateDocument parts.
type DocumentUpdateEvent struct {
	Status            string `json:"status"`
	DocumentID        string `json:"documentId,omitempty"`
	ChangeDescription string `json:"changeDescription,omitempty"`
	RevisedContent    string `json:"revisedContent,omitempty"`
	Error             string `json:"error,omitempty"`
}

const (
	updateLoading = "loading"
	updateSuccess = "success"
	updateError   = "error"
)

// documentUpdater applies tool-requested revisions for one user and reports
// progress on w. Handlers run on the stream's producer goroutine.
type documentUpdater struct {
	app    *App
	userID string
	w      *uistream.Writer
}

// chatTool lets the model name the document to update.
func (u documentUpdater) chatTool() ai.Tool {
	return ai.NewTool(updateDocumentTool, updateDocumentDescription,
		func(ctx context.Context, in updateDocumentInput) (updateDocumentOutput, error) {
			return u.apply(ctx, ids.Normalize(in.DocumentID), in.RevisedContent, in.ChangeDescription)
		})
}

// boundTool always updates documentID regardless of what the model asks for.
func (u documentUpdater) boundTool(documentID string) ai.Tool {
	return ai.NewTool(updateDocumentTool, updateDocumentDescription,
		func(ctx context.Context, in reviseDocumentInput) (updateDocumentOutput, error) {
			return u.apply(ctx, documentID, in.RevisedContent, in.ChangeDescription)
		})
}

// apply emits exactly one loading event followed by exactly one terminal event.
func (u documentUpdater) apply(ctx context.Context, documentID, content, change string) (updateDocumentOutput, error) {
	// The loading and final events share the model's tool call id.
	eventID := ai.ToolCallID(ctx)
	if eventID == "" {
		eventID = ids.New()
	}
	if err := u.w.WriteData(updateDocumentTool, eventID, DocumentUpdateEvent{
		Status:            updateLoading,
		DocumentID:        documentID,
		ChangeDescription: change,
	}); err != nil {
		return updateDocumentOutput{}, err
	}
	fail := func(msg string, cause error) (updateDocumentOutput, error) {
		_ = u.w.WriteData(updateDocumentTool, eventID, DocumentUpdateEvent{
			Status:            updateError,
			DocumentID:        documentID,
			ChangeDescription: change,
			Error:             msg,
		})
		return updateDocumentOutput{}, cause
	}

	doc, ok, err := u.app.store.GetDocument(ctx, documentID)
	if err != nil {
		u.app.logger(ctx).Error("update document lookup failed", "document_id", documentID, "err", err)
		return fail("Failed to update document", errors.New("Failed to update document"))
	}
	if !ok || doc.UserID != u.userID {
		return fail(errToolDocumentNotFound.Error(), errToolDocumentNotFound)
	}
	matched, err := u.app.store.UpdateDocumentContent(ctx, documentID, content)
	if err != nil {
		u.app.logger(ctx).Error("update document failed", "document_id", documentID, "err", err)
		return fail("Failed to update document", errors.New("Failed to update document"))
	}
	if !matched {
		return fail(errToolDocumentNotFound.Error(), errToolDocumentNotFound)
	}
	if err := u.w.WriteData(updateDocumentTool, eventID, DocumentUpdateEvent{
		Status:            updateSuccess,
		DocumentID:        documentID,
		ChangeDescription: change,
		RevisedContent:    content,
	}); err != nil {
		return updateDocumentOutput{}, err
	}
	return updateDocumentOutput{
		Success:    true,
		Message:    "Document updated successfully. " + change,
		DocumentID: documentID,
	}, nil
}
