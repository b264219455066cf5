package delivery

import "github.com/go-chi/chi/v5"

// Register mounts dispatch, recall and the delivery callbacks.
func Register(r chi.Router, d Dispatcher, rc Recaller, cb Callbacks) {
	r.Method("POST", "/dispatches", DispatchHandler{d})
	r.Method("POST", "/recalls", RecallHandler{rc})
	r.Route("/callbacks/deliveries/{deliveryID}", func(r chi.Router) {
		r.Method("POST", "/receipt", ReceiptHandler{cb})
		r.Method("POST", "/done", DoneHandler{cb})
	})
}
